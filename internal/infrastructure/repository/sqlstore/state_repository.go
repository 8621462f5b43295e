package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

const stateColumns = `document_id, stage, status, failed_stage, failure_reason, error_detail, attempts, owner, updated_at`

// StateRepository persists processing_state rows. Every mutation is a single
// conditional UPDATE whose WHERE clause carries the expected stage and owner.
type StateRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewStateRepository(db *sql.DB, dialect Dialect) *StateRepository {
	return &StateRepository{db: db, dialect: dialect, now: time.Now}
}

func (r *StateRepository) Ensure(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, r.dialect.rebind(`
INSERT INTO processing_state (document_id, stage, status, failed_stage, failure_reason, error_detail, attempts, owner, updated_at)
VALUES (?, ?, ?, '', '', '', 0, '', ?)
ON CONFLICT (document_id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("prepare ensure state: %w", err)
	}
	defer stmt.Close()

	now := r.now().UTC()
	for _, id := range documentIDs {
		if _, err := stmt.ExecContext(ctx, id, string(domain.StagePending), string(domain.StatusPending), now); err != nil {
			return fmt.Errorf("ensure state %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ensure tx: %w", err)
	}
	return nil
}

func (r *StateRepository) Get(ctx context.Context, documentID string) (*domain.ProcessingState, error) {
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`
SELECT `+stateColumns+`
FROM processing_state
WHERE document_id = ?`), documentID)

	state, err := scanState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get state", fmt.Errorf("id=%s", documentID))
		}
		return nil, fmt.Errorf("scan state: %w", err)
	}
	return &state, nil
}

func (r *StateRepository) List(ctx context.Context) ([]domain.ProcessingState, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+stateColumns+`
FROM processing_state
ORDER BY document_id`)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessingState, 0)
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate states: %w", err)
	}
	return out, nil
}

func (r *StateRepository) Claim(ctx context.Context, documentID, owner string) (*domain.ProcessingState, bool, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
UPDATE processing_state
SET status = ?, owner = ?, attempts = attempts + 1, updated_at = ?
WHERE document_id = ?
  AND stage NOT IN (?, ?)
  AND (status <> ? OR owner = ?)`),
		string(domain.StatusInProgress), owner, r.now().UTC(), documentID,
		string(domain.StageComplete), string(domain.StageFailed),
		string(domain.StatusInProgress), owner,
	)
	if err != nil {
		return nil, false, fmt.Errorf("claim state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim state rows affected: %w", err)
	}

	state, err := r.Get(ctx, documentID)
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return state, true, nil
	}
	if state.Stage.Terminal() {
		return state, false, nil
	}
	return nil, false, domain.WrapError(domain.ErrStateConflict, "claim state", fmt.Errorf("id=%s owned by %s", documentID, state.Owner))
}

func (r *StateRepository) Advance(ctx context.Context, documentID, owner string, from, to domain.Stage) error {
	if !domain.CanTransition(from, to) || to == domain.StageFailed {
		return domain.WrapError(domain.ErrInvalidInput, "advance state", fmt.Errorf("%s -> %s", from, to))
	}
	status, nextOwner := domain.StatusInProgress, owner
	if to == domain.StageComplete {
		status, nextOwner = domain.StatusDone, ""
	}

	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
UPDATE processing_state
SET stage = ?, status = ?, owner = ?, updated_at = ?
WHERE document_id = ? AND stage = ? AND status = ? AND owner = ?`),
		string(to), string(status), nextOwner, r.now().UTC(),
		documentID, string(from), string(domain.StatusInProgress), owner,
	)
	return r.expectOne(result, err, "advance state", documentID)
}

func (r *StateRepository) Fail(ctx context.Context, documentID, owner string, from domain.Stage, reason domain.FailureReason, detail string) error {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
UPDATE processing_state
SET stage = ?, status = ?, failed_stage = ?, failure_reason = ?, error_detail = ?, owner = '', updated_at = ?
WHERE document_id = ? AND stage = ? AND status = ? AND owner = ?`),
		string(domain.StageFailed), string(domain.StatusFailed), string(from), string(reason), detail, r.now().UTC(),
		documentID, string(from), string(domain.StatusInProgress), owner,
	)
	return r.expectOne(result, err, "fail state", documentID)
}

func (r *StateRepository) Release(ctx context.Context, documentID, owner string) error {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
UPDATE processing_state
SET status = ?, owner = '', updated_at = ?
WHERE document_id = ? AND status = ? AND owner = ?`),
		string(domain.StatusPending), r.now().UTC(),
		documentID, string(domain.StatusInProgress), owner,
	)
	return r.expectOne(result, err, "release state", documentID)
}

func (r *StateRepository) ReleaseStale(ctx context.Context, owner string) (int, error) {
	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
UPDATE processing_state
SET status = ?, owner = '', updated_at = ?
WHERE status = ? AND owner <> ?`),
		string(domain.StatusPending), r.now().UTC(),
		string(domain.StatusInProgress), owner,
	)
	if err != nil {
		return 0, fmt.Errorf("release stale states: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *StateRepository) Rewind(ctx context.Context, documentID string, to domain.Stage) (bool, error) {
	state, err := r.Get(ctx, documentID)
	if err != nil {
		return false, err
	}
	if !state.RewindTarget(to) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, r.dialect.rebind(`
UPDATE processing_state
SET stage = ?, status = ?, failed_stage = '', failure_reason = '', error_detail = '', updated_at = ?
WHERE document_id = ? AND stage = ? AND status = ?`),
		string(to), string(domain.StatusPending), r.now().UTC(),
		documentID, string(state.Stage), string(state.Status),
	)
	if err := r.expectOne(result, err, "rewind state", documentID); err != nil {
		return false, err
	}
	return true, nil
}

func (r *StateRepository) expectOne(result sql.Result, err error, operation, documentID string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrStateConflict, operation, fmt.Errorf("id=%s: stage or owner changed", documentID))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (domain.ProcessingState, error) {
	var state domain.ProcessingState
	var stage, status, failedStage, reason string
	var updatedAt any
	err := row.Scan(
		&state.DocumentID,
		&stage,
		&status,
		&failedStage,
		&reason,
		&state.ErrorDetail,
		&state.Attempts,
		&state.Owner,
		&updatedAt,
	)
	if err != nil {
		return domain.ProcessingState{}, err
	}
	state.Stage = domain.Stage(stage)
	state.Status = domain.Status(status)
	state.FailedStage = domain.Stage(failedStage)
	state.FailureReason = domain.FailureReason(reason)
	if state.UpdatedAt, err = scanTime(updatedAt); err != nil {
		return domain.ProcessingState{}, err
	}
	return state, nil
}
