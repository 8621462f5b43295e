package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/repository/sqlstore"
)

const schemaLockKey int64 = 2026101801

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across pipeline/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

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
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_state_status ON processing_state(status);

CREATE TABLE IF NOT EXISTS process_log (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_process_log_document ON process_log(document_id, id);

CREATE TABLE IF NOT EXISTS mined_fields (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL,
	field_name TEXT NOT NULL,
	value TEXT NOT NULL,
	match_kind TEXT NOT NULL,
	ambiguous BOOLEAN NOT NULL DEFAULT FALSE,
	candidates INTEGER NOT NULL DEFAULT 0,
	span_start INTEGER,
	span_end INTEGER,
	span_text TEXT
);

CREATE INDEX IF NOT EXISTS idx_mined_fields_document ON mined_fields(document_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func NewStateRepository(db *sql.DB) *sqlstore.StateRepository {
	return sqlstore.NewStateRepository(db, sqlstore.Postgres)
}

func NewAuditRepository(db *sql.DB) *sqlstore.AuditRepository {
	return sqlstore.NewAuditRepository(db, sqlstore.Postgres)
}
