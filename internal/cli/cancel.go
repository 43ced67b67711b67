package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gitdelayed/internal/core"
)

func cancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <operation-id>",
		Short: "Cancel a pending or retrying operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			op, err := a.service(st).Cancel(cmd.Context(), args[0])
			switch {
			case errors.Is(err, core.ErrOperationExecuting):
				return fmt.Errorf("operation %s is executing right now; try again once it finishes", args[0])
			case err != nil && op == nil:
				return err
			case err != nil:
				a.warnf("%v", err)
			}
			fmt.Fprintf(a.stdout, "%s Cancelled %s %s\n", color.New(color.FgGreen).Sprint("✓"), op.Kind, op.ID)
			return nil
		},
	}
}

func pruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished operations and their history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than cannot be negative")
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			cutoff := a.clock.Now().UTC().Add(-olderThan)
			n, err := st.PruneOperations(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune: %w", err)
			}
			fmt.Fprintf(a.stdout, "Pruned %d finished operations\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Only prune operations finished longer ago than this")
	return cmd
}
