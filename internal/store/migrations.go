package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

// schemaVersion is bumped whenever the embedded schema script changes
// shape. The applied version lives in schema_version; the event log's
// write-intent lock also leans on that table, so it must exist before any
// append.
const schemaVersion = 1

//go:embed migrations/001_initial_schema.sql
var schemaScript string

// ensureSchema brings the database up to the current schema version. The
// whole script executes in one transaction, so a failed upgrade leaves the
// previous schema intact.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema upgrade: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range scriptStatements(schemaScript) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema v%d: %w", schemaVersion, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`,
		schemaVersion, "initial_schema"); err != nil {
		return fmt.Errorf("record schema v%d: %w", schemaVersion, err)
	}
	return tx.Commit()
}

// scriptStatements scans the schema script line by line, dropping blank and
// "--" comment lines, and cuts a statement at each terminating semicolon.
func scriptStatements(script string) []string {
	var stmts []string
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		stmt := strings.Join(buf, "\n")
		buf = buf[:0]
		if strings.Trim(stmt, "; \t") == "" {
			return
		}
		stmts = append(stmts, stmt)
	}

	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		buf = append(buf, line)
		if strings.HasSuffix(line, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
