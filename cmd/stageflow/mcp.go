package main

import (
	"github.com/spf13/cobra"

	"github.com/ldi/stageflow/internal/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, database, err := a.openService(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			p, err := a.principal(ctx, svc)
			if err != nil {
				return err
			}

			a.logger.Info().Str("principal", p.UserID).Msg("serving mcp over stdio")
			s := mcp.NewServer(svc, mcp.WithPrincipal(p), mcp.WithVersion(version))
			return mcp.Serve(s)
		},
	}
}
