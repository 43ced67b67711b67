package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// RepositoryResolver locates git working trees.
type RepositoryResolver interface {
	// Discover returns the working tree root enclosing dir, or an error
	// matching ErrNotARepository.
	Discover(dir string) (string, error)
	CurrentBranch(root string) (string, error)
}

// OperationStore is the subset of the store the scheduling service writes to.
type OperationStore interface {
	AppendOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	CancelOperation(ctx context.Context, id string, now time.Time) (*Operation, error)
	InsertExecution(ctx context.Context, exec *Execution) error
}

// ScheduleRequest describes an operation to defer.
type ScheduleRequest struct {
	Expr    string
	Kind    OperationKind
	Message string
	Dir     string
}

// Service creates and cancels scheduled operations.
type Service struct {
	store    OperationStore
	repos    RepositoryResolver
	clock    clockwork.Clock
	location *time.Location
}

// NewService wires a scheduling service. location is the zone weekday and
// absolute expressions are interpreted in.
func NewService(store OperationStore, repos RepositoryResolver, clock clockwork.Clock, location *time.Location) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if location == nil {
		location = time.Local
	}
	return &Service{store: store, repos: repos, clock: clock, location: location}
}

// Location returns the zone used to interpret expressions.
func (s *Service) Location() *time.Location { return s.location }

// Preview parses expr against the current time without storing anything.
func (s *Service) Preview(expr string) (time.Time, error) {
	return ParseTimeExpression(expr, s.clock.Now().In(s.location))
}

// Schedule validates req and appends a pending operation.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (*Operation, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown operation kind %q", ErrInvalidRequest, req.Kind)
	}
	message := strings.TrimSpace(req.Message)
	if req.Kind == KindCommit && message == "" {
		return nil, fmt.Errorf("%w: commit message is required", ErrInvalidRequest)
	}

	root, err := s.repos.Discover(req.Dir)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	dueAt, err := ParseTimeExpression(req.Expr, now.In(s.location))
	if err != nil {
		return nil, err
	}

	op := &Operation{
		ID:             NewID(),
		RepositoryPath: root,
		Kind:           req.Kind,
		DueAt:          dueAt.UTC(),
		Status:         StatusPending,
		CreatedAt:      now.UTC(),
		UpdatedAt:      now.UTC(),
	}
	switch req.Kind {
	case KindCommit:
		op.Message = message
	case KindPush:
		branch, err := s.repos.CurrentBranch(root)
		if err != nil {
			return nil, fmt.Errorf("resolve current branch: %w", err)
		}
		op.Branch = branch
	}

	if err := s.store.AppendOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("append operation: %w", err)
	}
	return op, nil
}

// Cancel moves a pending or retrying operation to cancelled and records it in
// the execution history.
func (s *Service) Cancel(ctx context.Context, id string) (*Operation, error) {
	now := s.clock.Now().UTC()
	op, err := s.store.CancelOperation(ctx, id, now)
	if err != nil {
		return nil, err
	}
	exec := &Execution{
		OperationID: op.ID,
		Attempt:     op.Attempts,
		Outcome:     OutcomeCancelled,
		StartedAt:   now,
		EndedAt:     now,
	}
	if err := s.store.InsertExecution(ctx, exec); err != nil {
		return op, fmt.Errorf("record cancellation: %w", err)
	}
	return op, nil
}
