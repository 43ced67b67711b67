// Package cli implements the gitdelayed command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"gitdelayed/internal/config"
	"gitdelayed/internal/core"
	"gitdelayed/internal/git"
	"gitdelayed/internal/logging"
	"gitdelayed/internal/store"
)

// app carries what every command needs once flags are parsed.
type app struct {
	stdout    io.Writer
	stderr    io.Writer
	overrides config.Overrides
	clock     clockwork.Clock
	resolver  core.RepositoryResolver

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the full command tree writing to the process streams.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		clock:    clockwork.NewRealClock(),
		resolver: git.Resolver{},
	})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "gitdelayed",
		Short: "Schedule git commits and pushes for later",
		Long: `gitdelayed defers git commit and push operations to a future time.

Operations are stored durably and executed by a background daemon that polls
every minute. Failed operations are retried every ten minutes until they succeed
or are cancelled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.overrides)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Log.Level, a.stderr)
			return nil
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.PersistentFlags().StringVar(&a.overrides.StateDir, "state-dir", "", "Directory holding the operation store and daemon marker")
	root.PersistentFlags().StringVar(&a.overrides.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(scheduleCmd(a))
	root.AddCommand(whenCmd(a))
	root.AddCommand(listCmd(a))
	root.AddCommand(logsCmd(a))
	root.AddCommand(cancelCmd(a))
	root.AddCommand(pruneCmd(a))
	root.AddCommand(daemonCmd(a))
	root.AddCommand(mcpCmd(a))
	return root
}

// openStore opens the operation store for a short-lived command.
func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(ctx, a.cfg.StateDir, a.cfg.Scheduler.HistoryRetention)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func (a *app) service(st *store.Store) *core.Service {
	return core.NewService(st, a.resolver, a.clock, a.cfg.Location())
}

func (a *app) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(a.cfg.Location()).Format("2006-01-02 15:04")
}

func (a *app) warnf(format string, args ...any) {
	fmt.Fprintf(a.stderr, "%s %s\n", color.New(color.FgYellow).Sprint("warning:"), fmt.Sprintf(format, args...))
}

func statusColor(status core.OperationStatus) *color.Color {
	switch status {
	case core.StatusPending:
		return color.New(color.FgCyan)
	case core.StatusExecuting:
		return color.New(color.FgBlue)
	case core.StatusRetrying:
		return color.New(color.FgYellow)
	case core.StatusSucceeded:
		return color.New(color.FgGreen)
	case core.StatusAbandoned:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgHiBlack)
	}
}

func outcomeColor(outcome core.ExecutionOutcome) *color.Color {
	switch outcome {
	case core.OutcomeSucceeded:
		return color.New(color.FgGreen)
	case core.OutcomeFailed:
		return color.New(color.FgYellow)
	case core.OutcomeAbandoned:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgHiBlack)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
