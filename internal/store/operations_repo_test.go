package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdelayed/internal/core"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func newOp(id string, kind core.OperationKind, dueAt, createdAt time.Time) *core.Operation {
	op := &core.Operation{
		ID:             id,
		RepositoryPath: "/tmp/repo",
		Kind:           kind,
		DueAt:          dueAt,
		Status:         core.StatusPending,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	if kind == core.KindCommit {
		op.Message = "wip"
	}
	return op
}

func TestAppendAndGet(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	op := newOp("a", core.KindPush, base.Add(time.Hour), base)
	op.Branch = "main"
	require.NoError(t, s.AppendOperation(ctx, op))

	got, err := s.GetOperation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, core.KindPush, got.Kind)
	assert.Equal(t, "main", got.Branch)
	assert.True(t, got.DueAt.Equal(op.DueAt))
	assert.Equal(t, core.StatusPending, got.Status)
	assert.Nil(t, got.NextRetryAt)

	_, err = s.GetOperation(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrOperationNotFound)
}

func TestAppendDuplicateID(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("dup", core.KindPush, base, base)))
	err := s.AppendOperation(ctx, newOp("dup", core.KindPush, base, base))
	assert.ErrorIs(t, err, core.ErrDuplicateOperation)
}

func TestListOrdersByDueThenCreated(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	// Sub-second precision must still sort correctly.
	require.NoError(t, s.AppendOperation(ctx, newOp("late", core.KindPush, base.Add(2*time.Hour), base)))
	require.NoError(t, s.AppendOperation(ctx, newOp("tie-second", core.KindPush, base.Add(time.Hour), base.Add(500*time.Millisecond))))
	require.NoError(t, s.AppendOperation(ctx, newOp("tie-first", core.KindPush, base.Add(time.Hour), base)))
	require.NoError(t, s.AppendOperation(ctx, newOp("early", core.KindCommit, base.Add(time.Hour-time.Nanosecond), base)))

	ops, corrupt, err := s.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, corrupt)

	var ids []string
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	assert.Equal(t, []string{"early", "tie-first", "tie-second", "late"}, ids)
}

func TestUpdateIsDurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	s, dir := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("op", core.KindCommit, base, base)))
	op, err := s.GetOperation(ctx, "op")
	require.NoError(t, err)

	msg := "push rejected"
	next := base.Add(10 * time.Minute)
	op.Status = core.StatusRetrying
	op.Attempts = 1
	op.LastError = &msg
	op.NextRetryAt = &next
	op.UpdatedAt = base.Add(time.Minute)
	// Attempted rewrites of immutable fields are ignored.
	op.DueAt = base.Add(48 * time.Hour)
	require.NoError(t, s.UpdateOperation(ctx, op))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, dir, 3)
	require.NoError(t, err)
	defer reopened.Close()

	ops, _, err := reopened.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	got := ops[0]
	assert.Equal(t, core.StatusRetrying, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, msg, *got.LastError)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.Equal(next))
	assert.True(t, got.DueAt.Equal(base), "due_at is immutable")
}

func TestUpdateRejectsTerminalAndMissing(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("done", core.KindPush, base, base)))
	op, err := s.GetOperation(ctx, "done")
	require.NoError(t, err)
	op.Status = core.StatusSucceeded
	require.NoError(t, s.UpdateOperation(ctx, op))

	op.Status = core.StatusRetrying
	assert.ErrorIs(t, s.UpdateOperation(ctx, op), core.ErrOperationFinal)

	ghost := newOp("ghost", core.KindPush, base, base)
	assert.ErrorIs(t, s.UpdateOperation(ctx, ghost), core.ErrOperationNotFound)
}

func TestClaimOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("op", core.KindPush, base, base)))

	claimed, err := s.ClaimOperation(ctx, "op", base)
	require.NoError(t, err)
	assert.Equal(t, core.StatusExecuting, claimed.Status)

	_, err = s.ClaimOperation(ctx, "op", base)
	assert.ErrorIs(t, err, core.ErrNotClaimable)

	_, err = s.ClaimOperation(ctx, "nope", base)
	assert.ErrorIs(t, err, core.ErrOperationNotFound)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("p", core.KindPush, base, base)))
	require.NoError(t, s.AppendOperation(ctx, newOp("x", core.KindPush, base, base)))

	got, err := s.CancelOperation(ctx, "p", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, core.StatusCancelled, got.Status)

	_, err = s.CancelOperation(ctx, "p", base)
	assert.ErrorIs(t, err, core.ErrOperationFinal)

	_, err = s.ClaimOperation(ctx, "x", base)
	require.NoError(t, err)
	_, err = s.CancelOperation(ctx, "x", base)
	assert.ErrorIs(t, err, core.ErrOperationExecuting)

	_, err = s.CancelOperation(ctx, "missing", base)
	assert.ErrorIs(t, err, core.ErrOperationNotFound)
}

func TestRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("op", core.KindPush, base, base)))
	_, err := s.ClaimOperation(ctx, "op", base)
	require.NoError(t, err)

	n, err := s.RecoverInterrupted(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetOperation(ctx, "op")
	require.NoError(t, err)
	assert.Equal(t, core.StatusRetrying, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.True(t, got.IsDue(base.Add(time.Hour)))
}

func TestCorruptRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("good", core.KindPush, base, base)))
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO operations (id, repository_path, kind, message, branch, due_at, status, attempts, created_at, updated_at)
		VALUES ('bad-time', '/tmp/repo', 'push', '', '', 'yesterday', 'pending', 0, ?, ?),
		       ('bad-kind', '/tmp/repo', 'rebase', '', '', ?, 'pending', 0, ?, ?)
	`, formatTime(base), formatTime(base), formatTime(base), formatTime(base), formatTime(base))
	require.NoError(t, err)

	ops, corrupt, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "good", ops[0].ID)
	require.Len(t, corrupt, 2)

	_, err = s.GetOperation(ctx, "bad-kind")
	var cre *core.CorruptRecordError
	require.ErrorAs(t, err, &cre)
	assert.Equal(t, "bad-kind", cre.ID)
}

func TestUnscannableRowsAreSkipped(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("good", core.KindPush, base, base)))
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO operations (id, repository_path, kind, message, branch, due_at, status, attempts, created_at, updated_at)
		VALUES ('bad-attempts', '/tmp/repo', 'push', '', '', ?, 'pending', 'abc', ?, ?),
		       ('blob-attempts', '/tmp/repo', 'push', '', '', ?, 'pending', x'00ff', ?, ?)
	`, formatTime(base), formatTime(base), formatTime(base), formatTime(base), formatTime(base), formatTime(base))
	require.NoError(t, err)

	ops, corrupt, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "good", ops[0].ID)
	require.Len(t, corrupt, 2)
	ids := []string{corrupt[0].ID, corrupt[1].ID}
	assert.ElementsMatch(t, []string{"bad-attempts", "blob-attempts"}, ids)

	_, err = s.GetOperation(ctx, "bad-attempts")
	var cre *core.CorruptRecordError
	require.ErrorAs(t, err, &cre)
	assert.Equal(t, "bad-attempts", cre.ID)
	assert.Contains(t, cre.Err.Error(), "abc")
}

func TestParseAttempts(t *testing.T) {
	n, err := parseAttempts(int64(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = parseAttempts("7")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	for _, v := range []any{"abc", int64(-1), nil, 1.5} {
		_, err := parseAttempts(v)
		assert.Error(t, err, "%v", v)
	}
}

func TestPruneOperations(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	require.NoError(t, s.AppendOperation(ctx, newOp("old-done", core.KindPush, base, base)))
	require.NoError(t, s.AppendOperation(ctx, newOp("pending", core.KindPush, base, base)))

	op, err := s.GetOperation(ctx, "old-done")
	require.NoError(t, err)
	op.Status = core.StatusSucceeded
	op.UpdatedAt = base
	require.NoError(t, s.UpdateOperation(ctx, op))
	require.NoError(t, s.InsertExecution(ctx, &core.Execution{OperationID: "old-done", Attempt: 1, Outcome: core.OutcomeSucceeded, StartedAt: base, EndedAt: base}))

	n, err := s.PruneOperations(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetOperation(ctx, "old-done")
	assert.ErrorIs(t, err, core.ErrOperationNotFound)
	_, err = s.GetOperation(ctx, "pending")
	assert.NoError(t, err)

	execs, err := s.ListExecutions(ctx, "old-done", 10)
	require.NoError(t, err)
	assert.Empty(t, execs)
}
