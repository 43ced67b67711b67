package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gitdelayed/internal/core"
)

func listCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := core.OperationStatus(status)
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("invalid status: %s\nValid statuses: pending, executing, retrying, succeeded, abandoned, cancelled", status)
			}

			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			ops, corrupt, err := st.ListOperations(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list operations: %w", err)
			}
			for _, rec := range corrupt {
				a.warnf("skipping corrupt record %s: %v", rec.ID, rec.Err)
			}

			var shown []*core.Operation
			for _, op := range ops {
				if filter == "" || op.Status == filter {
					shown = append(shown, op)
				}
			}
			if len(shown) == 0 {
				fmt.Fprintln(a.stdout, "No operations found")
				return nil
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tSTATUS\tDUE\tATTEMPTS\tREPOSITORY\tDETAIL")
			for _, op := range shown {
				due := op.DueAt
				if op.Status == core.StatusRetrying && op.NextRetryAt != nil {
					due = *op.NextRetryAt
				}
				detail := op.Message
				if op.Kind == core.KindPush {
					detail = op.Branch
				}
				if op.LastError != nil && !op.Status.Terminal() {
					detail = *op.LastError
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					op.ID,
					op.Kind,
					statusColor(op.Status).Sprint(op.Status),
					a.formatTime(&due),
					op.Attempts,
					op.RepositoryPath,
					truncate(detail, 50),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show operations in this status")
	return cmd
}

func logsCmd(a *app) *cobra.Command {
	var limit int
	var verbose bool
	cmd := &cobra.Command{
		Use:   "logs [operation-id]",
		Short: "Show execution history, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			var opID string
			if len(args) == 1 {
				opID = args[0]
				if _, err := st.GetOperation(cmd.Context(), opID); err != nil {
					return err
				}
			}
			execs, err := st.ListExecutions(cmd.Context(), opID, limit)
			if err != nil {
				return fmt.Errorf("failed to list executions: %w", err)
			}
			if len(execs) == 0 {
				fmt.Fprintln(a.stdout, "No executions recorded")
				return nil
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tATTEMPT\tOUTCOME\tSTARTED\tDURATION\tERROR")
			for _, e := range execs {
				errText := "-"
				if e.Error != nil {
					errText = truncate(*e.Error, 60)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.OperationID,
					strconv.Itoa(e.Attempt),
					outcomeColor(e.Outcome).Sprint(e.Outcome),
					a.formatTime(&e.StartedAt),
					e.EndedAt.Sub(e.StartedAt).Round(time.Millisecond),
					errText,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if verbose {
				for _, e := range execs {
					if e.Output == "" {
						continue
					}
					fmt.Fprintf(a.stdout, "\n--- %s attempt %d ---\n%s\n", e.OperationID, e.Attempt, e.Output)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print captured git output")
	return cmd
}
