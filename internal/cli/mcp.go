package cli

import (
	"github.com/spf13/cobra"

	gdmcp "gitdelayed/internal/mcp"
)

func mcpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the scheduling tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			// stdout carries the protocol; logs stay on stderr.
			return gdmcp.NewMCPServer(st, a.service(st), a.logger).ServeStdio()
		},
	}
}
