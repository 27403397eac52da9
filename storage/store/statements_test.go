package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/models"
)

func TestUpsertStatement(t *testing.T) {
	rec := &models.ProcessedLog{
		TenantID:    "acme",
		LogID:       "log-001",
		Source:      "json",
		ProcessedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	sql, args, err := newStatements("postgres").upsert(rec)
	require.NoError(t, err)
	assert.Contains(t, sql, `INSERT INTO "processed_logs"`)
	assert.Contains(t, sql, `ON CONFLICT (tenant_id, log_id) DO UPDATE SET`)
	assert.Contains(t, sql, `"excluded"."modified_data"`)
	assert.Contains(t, sql, "$1")
	assert.Len(t, args, 8)
	assert.Contains(t, args, "acme")

	sql, _, err = newStatements("sqlite3").upsert(rec)
	require.NoError(t, err)
	assert.Contains(t, sql, "ON CONFLICT (tenant_id, log_id) DO UPDATE SET")
	assert.Contains(t, sql, "?")
}

func TestGetStatementAlwaysScopesByTenant(t *testing.T) {
	sql, args, err := newStatements("postgres").get("acme", "log-001")
	require.NoError(t, err)
	assert.Contains(t, sql, `"tenant_id" = $`)
	assert.Contains(t, sql, `"log_id" = $`)
	assert.ElementsMatch(t, []interface{}{"acme", "log-001"}, args)
}
