package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/repository/sqlstore"
)

// Open opens a SQLite database with WAL mode and a single connection, so
// conditional updates from concurrent workers are serialized by the pool.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const query = `
CREATE TABLE IF NOT EXISTS processing_state (
	document_id TEXT PRIMARY KEY,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	failed_stage TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	owner TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_state_status ON processing_state(status);

CREATE TABLE IF NOT EXISTS process_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_process_log_document ON process_log(document_id, id);

CREATE TABLE IF NOT EXISTS mined_fields (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	field_name TEXT NOT NULL,
	value TEXT NOT NULL,
	match_kind TEXT NOT NULL,
	ambiguous INTEGER NOT NULL DEFAULT 0,
	candidates INTEGER NOT NULL DEFAULT 0,
	span_start INTEGER,
	span_end INTEGER,
	span_text TEXT
);

CREATE INDEX IF NOT EXISTS idx_mined_fields_document ON mined_fields(document_id);
`
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

func NewStateRepository(db *sql.DB) *sqlstore.StateRepository {
	return sqlstore.NewStateRepository(db, sqlstore.SQLite)
}

func NewAuditRepository(db *sql.DB) *sqlstore.AuditRepository {
	return sqlstore.NewAuditRepository(db, sqlstore.SQLite)
}
