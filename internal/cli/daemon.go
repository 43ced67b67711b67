package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gitdelayed/internal/api"
	"gitdelayed/internal/core"
	"gitdelayed/internal/daemon"
	"gitdelayed/internal/git"
	"gitdelayed/internal/logging"
	gdmcp "gitdelayed/internal/mcp"
	"gitdelayed/internal/metrics"
	"gitdelayed/internal/notify"
)

func daemonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or control the background executor",
	}
	cmd.AddCommand(daemonStartCmd(a))
	cmd.AddCommand(daemonStopCmd(a))
	cmd.AddCommand(daemonStatusCmd(a))
	return cmd
}

func daemonStartCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the daemon in the foreground until SIGINT or SIGTERM",
		Long: `Run the polling loop in the foreground. Use a service manager
(systemd, launchd) or nohup to keep it running in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runDaemon(ctx, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Remove a stale marker left by a crashed daemon")
	return cmd
}

// runDaemon wires the store, scheduler and optional HTTP API and blocks
// until ctx is cancelled.
func (a *app) runDaemon(ctx context.Context, force bool) error {
	cfg := a.cfg
	logger := logging.New(cfg.Log.Level, a.stdout)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, err := notify.FromSettings(cfg.Notification.Bark.Enabled, cfg.Notification.Bark.URL)
	if err != nil {
		return fmt.Errorf("configure notifications: %w", err)
	}
	recorder := metrics.New(true)

	scheduler := core.NewScheduler(st, git.NewExecutor(logger), logger, core.SchedulerOptions{
		Interval:    cfg.Scheduler.PollInterval,
		ExecTimeout: cfg.Scheduler.ExecTimeout,
		Retry:       cfg.RetryPolicy(),
		Clock:       a.clock,
		Notifier:    notifier,
		Recorder:    recorder,
	})
	loops := []daemon.Loop{scheduler}

	if cfg.Server.Addr != "" {
		svc := a.service(st)
		mcpServer := gdmcp.NewMCPServer(st, svc, logger)
		loops = append(loops, api.NewServer(st, svc, logger, api.Options{
			Addr:      cfg.Server.Addr,
			AuthToken: cfg.Server.AuthToken,
			Metrics:   recorder.Handler(),
			MCP:       mcpServer.HTTPHandler(),
		}))
	}

	mgr := daemon.NewManager(cfg.StateDir, logger, daemon.Options{
		Force:         force,
		ShutdownGrace: cfg.ShutdownGrace,
	})
	return mgr.Run(ctx, loops...)
}

func daemonStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal the running daemon to exit and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr := daemon.NewManager(a.cfg.StateDir, a.logger, daemon.Options{ShutdownGrace: a.cfg.ShutdownGrace})
			if err := mgr.Stop(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s Daemon stopped\n", color.New(color.FgGreen).Sprint("✓"))
			return nil
		},
	}
}

func daemonStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			mgr := daemon.NewManager(a.cfg.StateDir, a.logger, daemon.Options{})
			status, pid, err := mgr.Status()
			if err != nil {
				return err
			}
			switch status {
			case daemon.StatusRunning:
				fmt.Fprintf(a.stdout, "%s (pid %d)\n", color.New(color.FgGreen).Sprint("running"), pid)
			case daemon.StatusStale:
				fmt.Fprintf(a.stdout, "%s (pid %d is gone; run 'gitdelayed daemon start --force' or remove %s)\n",
					color.New(color.FgYellow).Sprint("stale"), pid, mgr.Marker().Path())
			default:
				fmt.Fprintln(a.stdout, color.New(color.FgHiBlack).Sprint("stopped"))
			}
			return nil
		},
	}
}
