package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gitdelayed/internal/core"
)

const operationColumns = `id, repository_path, kind, message, branch, due_at, status, attempts, last_error, next_retry_at, created_at, updated_at`

// AppendOperation inserts a new operation.
func (s *Store) AppendOperation(ctx context.Context, op *core.Operation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = op.CreatedAt
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.RepositoryPath, op.Kind, op.Message, op.Branch, formatTime(op.DueAt), op.Status, op.Attempts,
		nullableString(op.LastError), nullableTime(op.NextRetryAt), formatTime(op.CreatedAt), formatTime(op.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert operation %s: %w", op.ID, core.ErrDuplicateOperation)
		}
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// ListOperations returns every operation ordered by due time, then creation
// time. Rows that cannot be decoded are skipped and reported separately.
func (s *Store) ListOperations(ctx context.Context) ([]*core.Operation, []core.CorruptRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM operations
		ORDER BY due_at ASC, created_at ASC, id ASC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()
	var (
		ops     []*core.Operation
		corrupt []core.CorruptRecord
	)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			var cre *core.CorruptRecordError
			if errors.As(err, &cre) {
				corrupt = append(corrupt, core.CorruptRecord{ID: cre.ID, Err: cre.Err})
				continue
			}
			return nil, nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return ops, corrupt, nil
}

// GetOperation fetches one operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*core.Operation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrOperationNotFound
		}
		return nil, err
	}
	return op, nil
}

// UpdateOperation replaces the mutable fields of op in a single statement.
// Identity, repository, kind and due time are never rewritten. Terminal
// operations are immutable.
func (s *Store) UpdateOperation(ctx context.Context, op *core.Operation) error {
	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, attempts = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?, ?)
	`, op.Status, op.Attempts, nullableString(op.LastError), nullableTime(op.NextRetryAt), formatTime(op.UpdatedAt),
		op.ID, core.StatusSucceeded, core.StatusAbandoned, core.StatusCancelled)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update operation rows: %w", err)
	}
	if rows == 0 {
		return s.explainMiss(ctx, op.ID, core.ErrOperationFinal)
	}
	return nil
}

// ClaimOperation moves a pending or retrying operation to executing and
// returns the claimed record. Only one caller can claim a given attempt.
func (s *Store) ClaimOperation(ctx context.Context, id string, now time.Time) (*core.Operation, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, core.StatusExecuting, formatTime(now), id, core.StatusPending, core.StatusRetrying)
	if err != nil {
		return nil, fmt.Errorf("claim operation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim operation rows: %w", err)
	}
	if rows == 0 {
		return nil, s.explainMiss(ctx, id, core.ErrNotClaimable)
	}
	return s.GetOperation(ctx, id)
}

// CancelOperation moves a pending or retrying operation to cancelled.
func (s *Store) CancelOperation(ctx context.Context, id string, now time.Time) (*core.Operation, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, core.StatusCancelled, formatTime(now), id, core.StatusPending, core.StatusRetrying)
	if err != nil {
		return nil, fmt.Errorf("cancel operation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("cancel operation rows: %w", err)
	}
	if rows == 0 {
		current, err := s.GetOperation(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == core.StatusExecuting {
			return nil, core.ErrOperationExecuting
		}
		return nil, core.ErrOperationFinal
	}
	return s.GetOperation(ctx, id)
}

// RecoverInterrupted re-queues operations left executing by a crash. They
// become due again immediately; the interrupted attempt is not counted.
func (s *Store) RecoverInterrupted(ctx context.Context, now time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE operations
		SET status = ?, next_retry_at = ?, updated_at = ?
		WHERE status = ?
	`, core.StatusRetrying, formatTime(now), formatTime(now), core.StatusExecuting)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted operations: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// PruneOperations deletes terminal operations last updated before cutoff,
// together with their execution history.
func (s *Store) PruneOperations(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	terminal := []any{core.StatusSucceeded, core.StatusAbandoned, core.StatusCancelled, formatTime(cutoff)}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM executions WHERE operation_id IN (
			SELECT id FROM operations WHERE status IN (?, ?, ?) AND updated_at < ?
		)
	`, terminal...); err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM operations WHERE status IN (?, ?, ?) AND updated_at < ?
	`, terminal...)
	if err != nil {
		return 0, fmt.Errorf("prune operations: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return int(rows), nil
}

// explainMiss distinguishes a missing row from a failed state precondition.
func (s *Store) explainMiss(ctx context.Context, id string, precondition error) error {
	var exists int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM operations WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check operation %s: %w", id, err)
	}
	if exists == 0 {
		return core.ErrOperationNotFound
	}
	return precondition
}

func scanOperation(scanner interface {
	Scan(dest ...any) error
}) (*core.Operation, error) {
	// Columns are read loosely; a bad value is reported against its row.
	var (
		id        sql.NullString
		repoPath  sql.NullString
		kind      sql.NullString
		message   sql.NullString
		branch    sql.NullString
		dueAt     sql.NullString
		status    sql.NullString
		rawAtt    any
		lastError sql.NullString
		nextRetry sql.NullString
		createdAt sql.NullString
		updatedAt sql.NullString
	)
	if err := scanner.Scan(&id, &repoPath, &kind, &message, &branch, &dueAt, &status, &rawAtt, &lastError, &nextRetry, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, &core.CorruptRecordError{ID: id.String, Err: fmt.Errorf("scan operation: %w", err)}
	}
	corrupt := func(err error) error {
		return &core.CorruptRecordError{ID: id.String, Err: err}
	}
	if !id.Valid || id.String == "" {
		return nil, corrupt(errors.New("missing id"))
	}
	attempts, err := parseAttempts(rawAtt)
	if err != nil {
		return nil, corrupt(err)
	}

	op := &core.Operation{
		ID:             id.String,
		RepositoryPath: repoPath.String,
		Kind:           core.OperationKind(kind.String),
		Message:        message.String,
		Branch:         branch.String,
		Status:         core.OperationStatus(status.String),
		Attempts:       attempts,
	}
	if !op.Kind.Valid() {
		return nil, corrupt(fmt.Errorf("unknown kind %q", kind.String))
	}
	if !op.Status.Valid() {
		return nil, corrupt(fmt.Errorf("unknown status %q", status.String))
	}
	if op.Kind == core.KindCommit && strings.TrimSpace(op.Message) == "" {
		return nil, corrupt(errors.New("commit without message"))
	}
	if strings.TrimSpace(op.RepositoryPath) == "" {
		return nil, corrupt(errors.New("empty repository path"))
	}
	if op.DueAt, err = parseTime(dueAt.String); err != nil {
		return nil, corrupt(err)
	}
	if op.CreatedAt, err = parseTime(createdAt.String); err != nil {
		return nil, corrupt(err)
	}
	if op.UpdatedAt, err = parseTime(updatedAt.String); err != nil {
		return nil, corrupt(err)
	}
	if lastError.Valid {
		op.LastError = &lastError.String
	}
	if nextRetry.Valid {
		t, err := parseTime(nextRetry.String)
		if err != nil {
			return nil, corrupt(err)
		}
		op.NextRetryAt = &t
	}
	return op, nil
}

// parseAttempts accepts the integer forms the driver may hand back.
func parseAttempts(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative attempts %d", n)
		}
		return int(n), nil
	case string:
		return parseAttempts([]byte(n))
	case []byte:
		i, err := strconv.ParseInt(strings.TrimSpace(string(n)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("attempts %q is not an integer", n)
		}
		return parseAttempts(i)
	case nil:
		return 0, errors.New("attempts is null")
	default:
		return 0, fmt.Errorf("attempts has unexpected type %T", v)
	}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
