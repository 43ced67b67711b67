package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gitdelayed/internal/core"
)

func scheduleCmd(a *app) *cobra.Command {
	var message, repo string
	cmd := &cobra.Command{
		Use:   "schedule <time> <commit|push>",
		Short: "Schedule a commit or push",
		Long: `Schedule a commit or push in the repository containing the current directory.

Time expressions:
  +N minutes|hours|days   relative to now, e.g. "+10 hours"
  Monday ... Sunday       next occurrence at 09:00 local time
  YYYY-MM-DD HH:MM        absolute local time`,
		Example: `  gitdelayed schedule "+10 hours" commit -m "wip: parser"
  gitdelayed schedule Monday push
  gitdelayed schedule "2025-11-04 09:00" push --repo ~/src/project`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := core.OperationKind(strings.ToLower(args[1]))
			if !kind.Valid() {
				return fmt.Errorf("unknown operation %q (expected commit or push)", args[1])
			}
			if kind == core.KindCommit && strings.TrimSpace(message) == "" {
				return fmt.Errorf("commit requires a message: -m <message>")
			}
			if kind == core.KindPush && message != "" {
				return fmt.Errorf("push does not take a message")
			}

			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			op, err := a.service(st).Schedule(cmd.Context(), core.ScheduleRequest{
				Expr:    args[0],
				Kind:    kind,
				Message: message,
				Dir:     repo,
			})
			if err != nil {
				return err
			}
			a.logger.Debug("operation scheduled", "op_id", op.ID, "due_at", op.DueAt)

			fmt.Fprintf(a.stdout, "%s Scheduled %s %s\n", color.New(color.FgGreen).Sprint("✓"), op.Kind, op.ID)
			fmt.Fprintf(a.stdout, "  Repository: %s\n", op.RepositoryPath)
			if op.Branch != "" {
				fmt.Fprintf(a.stdout, "  Branch: %s\n", op.Branch)
			}
			fmt.Fprintf(a.stdout, "  Due: %s\n", a.formatTime(&op.DueAt))
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message (commit only)")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository directory (default: current directory)")
	return cmd
}

func whenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "when <time>",
		Short: "Show when a time expression would fire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := core.NewService(nil, a.resolver, a.clock, a.cfg.Location())
			due, err := svc.Preview(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s (%s)\n", a.formatTime(&due), a.cfg.Location())
			return nil
		},
	}
}
