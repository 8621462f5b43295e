package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// AuditRepository appends to process_log and replaces mined_fields per document.
type AuditRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewAuditRepository(db *sql.DB, dialect Dialect) *AuditRepository {
	return &AuditRepository{db: db, dialect: dialect}
}

func (r *AuditRepository) RecordEvent(ctx context.Context, event domain.ProcessEvent) error {
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`
INSERT INTO process_log (run_id, document_id, stage, status, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?)`),
		event.RunID, event.DocumentID, string(event.Stage), string(event.Status), event.Detail, event.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert process event: %w", err)
	}
	return nil
}

func (r *AuditRepository) SaveMinedFields(ctx context.Context, documentID string, fields []domain.MinedField) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mined fields tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, r.dialect.rebind(`DELETE FROM mined_fields WHERE document_id = ?`), documentID); err != nil {
		return fmt.Errorf("delete mined fields: %w", err)
	}
	for _, field := range fields {
		var start, end, text any
		if field.SourceSpan != nil {
			start, end, text = field.SourceSpan.Start, field.SourceSpan.End, field.SourceSpan.Text
		}
		_, err := tx.ExecContext(ctx, r.dialect.rebind(`
INSERT INTO mined_fields (document_id, field_name, value, match_kind, ambiguous, candidates, span_start, span_end, span_text)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			documentID, string(field.Field), field.Value, string(field.Match), field.Ambiguous, field.Candidates, start, end, text,
		)
		if err != nil {
			return fmt.Errorf("insert mined field %s: %w", field.Field, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mined fields tx: %w", err)
	}
	return nil
}

// Events returns the process log for one document, oldest first.
func (r *AuditRepository) Events(ctx context.Context, documentID string) ([]domain.ProcessEvent, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(`
SELECT run_id, document_id, stage, status, detail, created_at
FROM process_log
WHERE document_id = ?
ORDER BY id`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list process events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessEvent, 0)
	for rows.Next() {
		var event domain.ProcessEvent
		var stage, status string
		var at any
		if err := rows.Scan(&event.RunID, &event.DocumentID, &stage, &status, &event.Detail, &at); err != nil {
			return nil, fmt.Errorf("scan process event: %w", err)
		}
		event.Stage = domain.Stage(stage)
		event.Status = domain.Status(status)
		if event.At, err = scanTime(at); err != nil {
			return nil, fmt.Errorf("scan process event: %w", err)
		}
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate process events: %w", err)
	}
	return out, nil
}
