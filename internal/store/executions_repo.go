package store

import (
	"context"
	"database/sql"
	"fmt"

	"gitdelayed/internal/core"
)

// InsertExecution appends an attempt record.
func (s *Store) InsertExecution(ctx context.Context, exec *core.Execution) error {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO executions (operation_id, attempt, outcome, output, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, exec.OperationID, exec.Attempt, exec.Outcome, exec.Output, nullableString(exec.Error),
		formatTime(exec.StartedAt), formatTime(exec.EndedAt))
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		exec.ID = id
	}
	return nil
}

// ListExecutions returns the newest executions first. An empty operationID
// lists across all operations.
func (s *Store) ListExecutions(ctx context.Context, operationID string, limit int) ([]*core.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if operationID != "" {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT id, operation_id, attempt, outcome, output, error, started_at, ended_at
			FROM executions
			WHERE operation_id = ?
			ORDER BY id DESC
			LIMIT ?
		`, operationID, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx, `
			SELECT id, operation_id, attempt, outcome, output, error, started_at, ended_at
			FROM executions
			ORDER BY id DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	var execs []*core.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return execs, nil
}

// PruneExecutions removes execution records beyond the retention limit for an operation.
func (s *Store) PruneExecutions(ctx context.Context, operationID string) error {
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM executions
		WHERE operation_id = ? AND id NOT IN (
			SELECT id FROM executions
			WHERE operation_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, operationID, operationID, s.HistoryRetention)
	if err != nil {
		return fmt.Errorf("prune executions: %w", err)
	}
	return nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*core.Execution, error) {
	var (
		exec      core.Execution
		outcome   string
		errMsg    sql.NullString
		startedAt string
		endedAt   string
	)
	if err := scanner.Scan(&exec.ID, &exec.OperationID, &exec.Attempt, &outcome, &exec.Output, &errMsg, &startedAt, &endedAt); err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	exec.Outcome = core.ExecutionOutcome(outcome)
	if errMsg.Valid {
		exec.Error = &errMsg.String
	}
	var err error
	if exec.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if exec.EndedAt, err = parseTime(endedAt); err != nil {
		return nil, err
	}
	return &exec, nil
}
