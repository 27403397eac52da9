package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"logpipe/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processed_logs (
	tenant_id               TEXT      NOT NULL,
	log_id                  TEXT      NOT NULL,
	source                  TEXT      NOT NULL,
	original_text           TEXT      NOT NULL,
	modified_data           TEXT      NOT NULL,
	processed_at            TIMESTAMP NOT NULL,
	processing_time_seconds REAL      NOT NULL,
	text_length             INTEGER   NOT NULL,
	PRIMARY KEY (tenant_id, log_id)
)`

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	stmts  statements
	logger *log.Entry
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string, logger *log.Entry) (*SQLiteStore, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not make directory at %s for sqlite db: %w", dbDir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite db at %s: %w", path, err)
	}
	// SQLite allows a single writer; serialising here avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", sqliteSchema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set up sqlite db: %w", err)
		}
	}

	logger.Infof("Opened sqlite store at %s", path)
	return &SQLiteStore{db: db, stmts: newStatements("sqlite3"), logger: logger}, nil
}

func (s *SQLiteStore) Write(ctx context.Context, tenantID, logID string, rec *models.ProcessedLog) error {
	if err := checkKey(tenantID, logID, rec); err != nil {
		return err
	}
	query, args, err := s.stmts.upsert(rec)
	if err != nil {
		return fmt.Errorf("failed to build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", tenantID, logID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, tenantID, logID string) (*models.ProcessedLog, error) {
	if err := checkKey(tenantID, logID, nil); err != nil {
		return nil, err
	}
	query, args, err := s.stmts.get(tenantID, logID)
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	rec, err := scanRow(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", tenantID, logID, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
