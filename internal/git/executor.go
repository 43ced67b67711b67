package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"gitdelayed/internal/core"
)

// DefaultKillGrace is how long a terminated git process may take to exit
// before it is killed.
const DefaultKillGrace = 5 * time.Second

// Executor runs commit and push operations with the git CLI.
type Executor struct {
	binary    string
	killGrace time.Duration
	logger    *slog.Logger
}

// NewExecutor returns an executor using the git binary found on PATH.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{binary: "git", killGrace: DefaultKillGrace, logger: logger}
}

// Execute performs op once. The context deadline bounds every git command it
// spawns; output from all of them is returned joined.
func (e *Executor) Execute(ctx context.Context, op *core.Operation) (string, error) {
	if err := Validate(op.RepositoryPath); err != nil {
		return "", err
	}
	switch op.Kind {
	case core.KindCommit:
		addOut, err := e.run(ctx, op.RepositoryPath, "add", "--all")
		if err != nil {
			return addOut, err
		}
		commitOut, err := e.run(ctx, op.RepositoryPath, "commit", "-m", op.Message)
		return joinOutput(addOut, commitOut), err
	case core.KindPush:
		args := []string{"push"}
		if op.Branch != "" {
			remote, err := RemoteFor(op.RepositoryPath, op.Branch)
			if err != nil {
				return "", &core.ExecutionError{Op: "git push", Err: err}
			}
			if remote == "" {
				remote = "origin"
			}
			args = append(args, remote, op.Branch)
		}
		return e.run(ctx, op.RepositoryPath, args...)
	default:
		return "", fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

func (e *Executor) run(ctx context.Context, dir string, args ...string) (string, error) {
	name := "git " + args[0]
	cmd := exec.CommandContext(ctx, e.binary, args...) // #nosec G204
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var buf bytes.Buffer
	out := &syncWriter{w: &buf}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error {
		sendTermination(cmd.Process)
		return nil
	}
	cmd.WaitDelay = e.killGrace

	start := time.Now()
	err := cmd.Run()
	output := strings.TrimSpace(buf.String())
	e.logger.Debug("git command finished", "cmd", name, "dir", dir, "elapsed", time.Since(start), "err", err)
	if err == nil {
		return output, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, &core.ExecutionError{Op: name, Diagnostic: "timed out", Err: ctx.Err()}
	}
	diagnostic := output
	if diagnostic == "" {
		diagnostic = err.Error()
	}
	return output, &core.ExecutionError{Op: name, Diagnostic: diagnostic, Err: err}
}

func joinOutput(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}
