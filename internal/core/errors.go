package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidExpression matches every time expression parse failure.
	ErrInvalidExpression = errors.New("invalid time expression")
	// ErrNotARepository is returned when a path is not inside a git working tree.
	ErrNotARepository = errors.New("not a git repository")
	// ErrInvalidRequest marks a malformed schedule request.
	ErrInvalidRequest = errors.New("invalid request")

	ErrOperationNotFound  = errors.New("operation not found")
	ErrOperationFinal     = errors.New("operation is in a terminal state")
	ErrNotClaimable       = errors.New("operation is not claimable")
	ErrDuplicateOperation = errors.New("operation id already exists")
	ErrOperationExecuting = errors.New("operation is executing")
)

// InvalidExpressionError carries the offending input.
type InvalidExpressionError struct {
	Expr   string
	Reason string
}

func (e *InvalidExpressionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid time expression %q: %s", e.Expr, e.Reason)
	}
	return fmt.Sprintf("invalid time expression %q (try: +10 hours, Monday, 2025-11-04 09:00)", e.Expr)
}

func (e *InvalidExpressionError) Is(target error) bool {
	return target == ErrInvalidExpression
}

// ExecutionError is a transient failure of the underlying git command.
type ExecutionError struct {
	Op         string
	Diagnostic string
	Err        error
}

func (e *ExecutionError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Diagnostic)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// CorruptRecordError reports a persisted record that cannot be decoded.
type CorruptRecordError struct {
	ID  string
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt operation record %q: %v", e.ID, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// CorruptRecord is a skipped row reported alongside list results.
type CorruptRecord struct {
	ID  string
	Err error
}
