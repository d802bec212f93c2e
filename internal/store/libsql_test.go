package store

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renholm/stagehand/pkg/schema"
)

func TestScriptStatements(t *testing.T) {
	script := `
-- leading comment
CREATE TABLE runs (
    id TEXT PRIMARY KEY -- inline note
);

CREATE INDEX idx_runs_status ON runs(status);

-- trailing comment only

`
	stmts := scriptStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE runs")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_runs_status")
}

func TestScriptStatements_Empty(t *testing.T) {
	assert.Empty(t, scriptStatements(""))
	assert.Empty(t, scriptStatements("  ;;  ; "))
	assert.Empty(t, scriptStatements("-- only comments\n-- more"))
}

func TestScriptStatements_UnterminatedFinalStatement(t *testing.T) {
	stmts := scriptStatements("PRAGMA journal_mode = WAL")
	require.Len(t, stmts, 1)
	assert.Equal(t, "PRAGMA journal_mode = WAL", stmts[0])
}

func TestSchemaScriptParses(t *testing.T) {
	stmts := scriptStatements(schemaScript)
	require.NotEmpty(t, stmts)

	joined := ""
	for _, s := range stmts {
		joined += s + "\n"
	}
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS runs")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS events")
	assert.Contains(t, joined, "CREATE TABLE IF NOT EXISTS scheduled_jobs")
}

func TestStoreNotFound(t *testing.T) {
	err := storeNotFound("run", "r-404")
	assert.Equal(t, schema.ErrKindStorage, schema.KindOf(err))
	assert.Contains(t, err.Error(), `run "r-404" not found`)
}

func TestNullHelpers(t *testing.T) {
	assert.Nil(t, nullStr(""))
	assert.Equal(t, "x", nullStr("x"))

	assert.Nil(t, nullRaw(nil))
	assert.Nil(t, nullRaw(json.RawMessage{}))
	assert.Equal(t, `{"a":1}`, nullRaw(json.RawMessage(`{"a":1}`)))

	assert.Nil(t, nullTime(nil))
	now := time.Now().UTC()
	assert.Equal(t, now, nullTime(&now))

	assert.Equal(t, now, timeOrNow(now))
	assert.False(t, timeOrNow(time.Time{}).IsZero())

	assert.Nil(t, rawOrNil(sql.NullString{}))
	assert.Nil(t, rawOrNil(sql.NullString{Valid: true, String: ""}))
	assert.Equal(t, json.RawMessage(`[1]`), rawOrNil(sql.NullString{Valid: true, String: "[1]"}))
}
