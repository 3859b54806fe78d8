package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/spec-kit/helpdesk-service/internal/mcp"
)

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve knowledge base and ticket tools over MCP stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout so an AI agent can
search the knowledge base, read tickets and check agent success rates.

Available tools: helpdesk_kb_search, helpdesk_kb_article, helpdesk_ticket,
helpdesk_agent_stats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			if b.Knowledge == nil || b.Detail == nil {
				return errors.New("backend does not expose the knowledge base")
			}
			srv := mcp.NewServer(b.Knowledge, b.Detail, b.Ops, cmd.Root().Version)
			return srv.ServeStdio(cmd.Context(), cmd.InOrStdin(), a.ui.Out)
		},
	}
}
