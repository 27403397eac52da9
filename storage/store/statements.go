package store

import (
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	"logpipe/internal/models"
)

var processedLogsT = goqu.T(processedLogsTable)

// Column order shared by every SELECT and scanRow.
var processedLogColumns = []interface{}{
	"tenant_id",
	"log_id",
	"source",
	"original_text",
	"modified_data",
	"processed_at",
	"processing_time_seconds",
	"text_length",
}

// statements builds the SQL used by the relational backends. Every
// statement carries the full (tenant_id, log_id) key.
type statements struct {
	dialect goqu.DialectWrapper
}

func newStatements(dialect string) statements {
	return statements{dialect: goqu.Dialect(dialect)}
}

// upsert inserts rec or overwrites every non-key column of the existing row.
func (s statements) upsert(rec *models.ProcessedLog) (string, []interface{}, error) {
	return s.dialect.Insert(processedLogsT).
		Rows(goqu.Record{
			"tenant_id":               rec.TenantID,
			"log_id":                  rec.LogID,
			"source":                  rec.Source,
			"original_text":           rec.OriginalText,
			"modified_data":           rec.ModifiedData,
			"processed_at":            rec.ProcessedAt.UTC(),
			"processing_time_seconds": rec.ProcessingTimeSeconds,
			"text_length":             rec.TextLength,
		}).
		OnConflict(goqu.DoUpdate("tenant_id, log_id", goqu.Record{
			"source":                  goqu.I("excluded.source"),
			"original_text":           goqu.I("excluded.original_text"),
			"modified_data":           goqu.I("excluded.modified_data"),
			"processed_at":            goqu.I("excluded.processed_at"),
			"processing_time_seconds": goqu.I("excluded.processing_time_seconds"),
			"text_length":             goqu.I("excluded.text_length"),
		})).
		Prepared(true).
		ToSQL()
}

func (s statements) get(tenantID, logID string) (string, []interface{}, error) {
	return s.dialect.From(processedLogsT).
		Select(processedLogColumns...).
		Where(goqu.Ex{"tenant_id": tenantID, "log_id": logID}).
		Prepared(true).
		ToSQL()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(row rowScanner) (*models.ProcessedLog, error) {
	var rec models.ProcessedLog
	err := row.Scan(
		&rec.TenantID,
		&rec.LogID,
		&rec.Source,
		&rec.OriginalText,
		&rec.ModifiedData,
		&rec.ProcessedAt,
		&rec.ProcessingTimeSeconds,
		&rec.TextLength,
	)
	if err != nil {
		return nil, err
	}
	rec.ProcessedAt = rec.ProcessedAt.UTC()
	return &rec, nil
}
