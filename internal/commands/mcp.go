package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/imjszhang/wiseflow/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the skill library over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Agent.Resume = true

			rt, err := bootstrap(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			return mcp.NewServer(rt.agent.Skills(), appVersion).ServeStdio()
		},
	}
}

// contextWithTimeout is a small helper shared by the serve command.
func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
