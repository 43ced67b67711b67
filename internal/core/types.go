package core

import (
	"time"
)

// OperationKind identifies the version-control action to run.
type OperationKind string

const (
	KindCommit OperationKind = "commit"
	KindPush   OperationKind = "push"
)

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	switch k {
	case KindCommit, KindPush:
		return true
	}
	return false
}

// OperationStatus describes the lifecycle state of a scheduled operation.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusExecuting OperationStatus = "executing"
	StatusRetrying  OperationStatus = "retrying"
	StatusSucceeded OperationStatus = "succeeded"
	StatusAbandoned OperationStatus = "abandoned"
	StatusCancelled OperationStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s OperationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusExecuting, StatusRetrying, StatusSucceeded, StatusAbandoned, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s OperationStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusAbandoned || s == StatusCancelled
}

// Operation is a deferred commit or push tied to one repository.
type Operation struct {
	ID             string
	RepositoryPath string
	Kind           OperationKind
	Message        string
	Branch         string
	DueAt          time.Time
	Status         OperationStatus
	Attempts       int
	LastError      *string
	NextRetryAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveDueAt returns the time the next attempt becomes eligible.
func (o *Operation) EffectiveDueAt() time.Time {
	if o.Status == StatusRetrying && o.NextRetryAt != nil {
		return *o.NextRetryAt
	}
	return o.DueAt
}

// IsDue reports whether the operation should be attempted at now.
func (o *Operation) IsDue(now time.Time) bool {
	switch o.Status {
	case StatusPending, StatusRetrying:
		return !o.EffectiveDueAt().After(now)
	default:
		return false
	}
}

// ExecutionOutcome is the result recorded for a single attempt.
type ExecutionOutcome string

const (
	OutcomeSucceeded ExecutionOutcome = "succeeded"
	OutcomeFailed    ExecutionOutcome = "failed"
	OutcomeAbandoned ExecutionOutcome = "abandoned"
	OutcomeCancelled ExecutionOutcome = "cancelled"
)

// Execution captures one attempt (or cancellation) of an operation.
type Execution struct {
	ID          int64
	OperationID string
	Attempt     int
	Outcome     ExecutionOutcome
	Output      string
	Error       *string
	StartedAt   time.Time
	EndedAt     time.Time
}
