package core

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	ops     map[string]*Operation
	corrupt []CorruptRecord
	execs   []*Execution
	nextID  int64

	claimHook func(id string)
}

func newMemStore(ops ...*Operation) *memStore {
	s := &memStore{ops: map[string]*Operation{}}
	for _, op := range ops {
		s.ops[op.ID] = cloneOp(op)
	}
	return s
}

func cloneOp(op *Operation) *Operation {
	c := *op
	if op.LastError != nil {
		v := *op.LastError
		c.LastError = &v
	}
	if op.NextRetryAt != nil {
		v := *op.NextRetryAt
		c.NextRetryAt = &v
	}
	return &c
}

func (s *memStore) get(id string) *Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil
	}
	return cloneOp(op)
}

func (s *memStore) executions() []*Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Execution(nil), s.execs...)
}

func (s *memStore) AppendOperation(_ context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ops[op.ID]; ok {
		return ErrDuplicateOperation
	}
	s.ops[op.ID] = cloneOp(op)
	return nil
}

func (s *memStore) ListOperations(context.Context) ([]*Operation, []CorruptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Operation, 0, len(s.ops))
	for _, op := range s.ops {
		out = append(out, cloneOp(op))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, append([]CorruptRecord(nil), s.corrupt...), nil
}

func (s *memStore) GetOperation(_ context.Context, id string) (*Operation, error) {
	if op := s.get(id); op != nil {
		return op, nil
	}
	return nil, ErrOperationNotFound
}

func (s *memStore) ClaimOperation(_ context.Context, id string, now time.Time) (*Operation, error) {
	if s.claimHook != nil {
		s.claimHook(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	if op.Status != StatusPending && op.Status != StatusRetrying {
		return nil, ErrNotClaimable
	}
	op.Status = StatusExecuting
	op.UpdatedAt = now
	return cloneOp(op), nil
}

func (s *memStore) UpdateOperation(_ context.Context, op *Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.ops[op.ID]
	if !ok {
		return ErrOperationNotFound
	}
	if cur.Status.Terminal() {
		return ErrOperationFinal
	}
	s.ops[op.ID] = cloneOp(op)
	return nil
}

func (s *memStore) CancelOperation(_ context.Context, id string, now time.Time) (*Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	switch op.Status {
	case StatusExecuting:
		return nil, ErrOperationExecuting
	case StatusPending, StatusRetrying:
	default:
		return nil, ErrOperationFinal
	}
	op.Status = StatusCancelled
	op.NextRetryAt = nil
	op.UpdatedAt = now
	return cloneOp(op), nil
}

func (s *memStore) RecoverInterrupted(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, op := range s.ops {
		if op.Status == StatusExecuting {
			at := now
			op.Status = StatusRetrying
			op.NextRetryAt = &at
			op.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *memStore) InsertExecution(_ context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	exec.ID = s.nextID
	c := *exec
	s.execs = append(s.execs, &c)
	return nil
}

func (s *memStore) PruneExecutions(context.Context, string) error { return nil }

// scriptedExecutor returns queued results per operation, then succeeds.
type scriptedExecutor struct {
	mu      sync.Mutex
	results map[string][]error
	calls   []string
	before  func(op *Operation)
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{results: map[string][]error{}}
}

func (e *scriptedExecutor) queue(id string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results[id] = append(e.results[id], errs...)
}

func (e *scriptedExecutor) Execute(_ context.Context, op *Operation) (string, error) {
	if e.before != nil {
		e.before(op)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, op.ID)
	queued := e.results[op.ID]
	if len(queued) == 0 {
		return "ok", nil
	}
	e.results[op.ID] = queued[1:]
	return "", queued[0]
}

func (e *scriptedExecutor) callCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == id {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *recordingNotifier) Send(_ context.Context, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	return nil
}

type fakeResolver struct {
	root   string
	branch string
	err    error
}

func (r fakeResolver) Discover(string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.root, nil
}

func (r fakeResolver) CurrentBranch(string) (string, error) { return r.branch, nil }
