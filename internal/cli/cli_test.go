package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdelayed/internal/config"
	"gitdelayed/internal/core"
	"gitdelayed/internal/daemon"
	"gitdelayed/internal/git"
	"gitdelayed/internal/store"
)

var t0 = time.Date(2026, time.March, 4, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	stateDir string
	repo     string
	clock    *clockwork.FakeClock
	stdout   *bytes.Buffer
	stderr   *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("GITDELAYED_USE_UTC", "true")
	repo := t.TempDir()
	_, err := gogit.PlainInit(repo, false)
	require.NoError(t, err)
	repo, err = filepath.EvalSymlinks(repo)
	require.NoError(t, err)
	return &testEnv{
		stateDir: t.TempDir(),
		repo:     repo,
		clock:    clockwork.NewFakeClockAt(t0),
		stdout:   &bytes.Buffer{},
		stderr:   &bytes.Buffer{},
	}
}

func (e *testEnv) app() *app {
	return &app{
		stdout:    e.stdout,
		stderr:    e.stderr,
		clock:     e.clock,
		resolver:  git.Resolver{},
		overrides: config.Overrides{EnvFiles: []string{}},
	}
}

func (e *testEnv) run(args ...string) (string, error) {
	e.stdout.Reset()
	e.stderr.Reset()
	root := newRootCmd(e.app())
	root.SetArgs(append([]string{"--state-dir", e.stateDir}, args...))
	err := root.Execute()
	return e.stdout.String(), err
}

func (e *testEnv) operations(t *testing.T) []*core.Operation {
	t.Helper()
	st, err := store.Open(context.Background(), e.stateDir, 0)
	require.NoError(t, err)
	defer st.Close()
	ops, _, err := st.ListOperations(context.Background())
	require.NoError(t, err)
	return ops
}

func TestScheduleAndList(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("schedule", "+10 hours", "commit", "-m", "wip: parser", "--repo", env.repo)
	require.NoError(t, err)
	assert.Contains(t, out, "Scheduled commit")
	assert.Contains(t, out, "2026-03-04 22:00")

	ops := env.operations(t)
	require.Len(t, ops, 1)
	assert.Equal(t, "wip: parser", ops[0].Message)
	assert.Equal(t, env.repo, ops[0].RepositoryPath)

	out, err = env.run("list")
	require.NoError(t, err)
	assert.Contains(t, out, ops[0].ID)
	assert.Contains(t, out, "pending")

	out, err = env.run("list", "--status", "succeeded")
	require.NoError(t, err)
	assert.Contains(t, out, "No operations found")

	_, err = env.run("list", "--status", "done")
	assert.Error(t, err)
}

func TestScheduleErrorsMapToExitCodes(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("schedule", "someday", "push", "--repo", env.repo)
	assert.Equal(t, ExitInvalidExpression, ExitCode(err))

	_, err = env.run("schedule", "+1 hour", "push", "--repo", t.TempDir())
	assert.Equal(t, ExitNotARepository, ExitCode(err))

	_, err = env.run("schedule", "+1 hour", "commit", "--repo", env.repo)
	assert.Equal(t, ExitError, ExitCode(err))

	_, err = env.run("schedule", "+1 hour", "merge", "--repo", env.repo)
	assert.Equal(t, ExitError, ExitCode(err))

	assert.Empty(t, env.operations(t))
}

func TestCancelLogsAndPrune(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run("schedule", "Friday", "push", "--repo", env.repo)
	require.NoError(t, err)
	id := env.operations(t)[0].ID

	out, err := env.run("cancel", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled push "+id)

	_, err = env.run("cancel", id)
	assert.ErrorIs(t, err, core.ErrOperationFinal)
	_, err = env.run("cancel", "missing")
	assert.ErrorIs(t, err, core.ErrOperationNotFound)

	out, err = env.run("logs", id)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	out, err = env.run("prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 0")

	env.clock.Advance(2 * time.Hour)
	out, err = env.run("prune", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1")
	assert.Empty(t, env.operations(t))
}

func TestWhen(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run("when", "monday")
	require.NoError(t, err)
	assert.Contains(t, out, "2026-03-09 09:00")

	_, err = env.run("when", "nope")
	assert.Equal(t, ExitInvalidExpression, ExitCode(err))
}

func TestDaemonStatusAndStop(t *testing.T) {
	env := newTestEnv(t)
	marker := daemon.NewMarker(env.stateDir)

	out, err := env.run("daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")

	_, err = env.run("daemon", "stop")
	assert.Equal(t, ExitNotRunning, ExitCode(err))

	require.NoError(t, marker.Create(os.Getpid()))
	out, err = env.run("daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("running (pid %d)", os.Getpid()))

	_, err = env.run("daemon", "start")
	assert.Equal(t, ExitAlreadyRunning, ExitCode(err))
	require.NoError(t, marker.Remove())

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Process.Kill())
	_ = cmd.Wait()
	require.NoError(t, marker.Create(pid))

	out, err = env.run("daemon", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "stale")

	_, err = env.run("daemon", "start")
	assert.Equal(t, ExitStaleMarker, ExitCode(err))
	_, err = env.run("daemon", "stop")
	assert.Equal(t, ExitStaleMarker, ExitCode(err))
}

func TestDaemonExecutesDueOperation(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "Test Author")
	t.Setenv("GIT_AUTHOR_EMAIL", "author@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test Author")
	t.Setenv("GIT_COMMITTER_EMAIL", "author@example.com")

	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.repo, "notes.txt"), []byte("hello\n"), 0o644))
	_, err := env.run("schedule", "+1 minute", "commit", "-m", "deferred", "--repo", env.repo)
	require.NoError(t, err)
	env.clock.Advance(2 * time.Minute)

	a := env.app()
	cfg, err := config.Load(config.Overrides{StateDir: env.stateDir, EnvFiles: []string{}})
	require.NoError(t, err)
	a.cfg = cfg
	a.stdout = &bytes.Buffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.runDaemon(ctx, false) }()

	assert.Eventually(t, func() bool {
		ops := env.operations(t)
		return len(ops) == 1 && ops[0].Status == core.StatusSucceeded
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	_, err = daemon.NewMarker(env.stateDir).Read()
	assert.ErrorIs(t, err, os.ErrNotExist)

	repo, err := gogit.PlainOpen(env.repo)
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	commit, err := repo.CommitObject(head.Hash())
	require.NoError(t, err)
	assert.Equal(t, "deferred\n", commit.Message)
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("boom"), ExitError},
		{&core.InvalidExpressionError{Expr: "x"}, ExitInvalidExpression},
		{fmt.Errorf("wrap: %w", core.ErrNotARepository), ExitNotARepository},
		{fmt.Errorf("%w (pid 1)", daemon.ErrAlreadyRunning), ExitAlreadyRunning},
		{daemon.ErrStale, ExitStaleMarker},
		{daemon.ErrNotRunning, ExitNotRunning},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExitCode(tc.err), "%v", tc.err)
	}
}
