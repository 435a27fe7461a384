package commands

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newLearnCmd() *cobra.Command {
	var loops int

	cmd := &cobra.Command{
		Use:   "learn [task]",
		Short: "Run the learning loop",
		Long:  "Run the curriculum-driven learning loop. With a task argument, that task is learned; otherwise the curriculum proposes tasks.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			task := strings.Join(args, " ")
			result, err := rt.agent.Learn(ctx, task, loops)
			if err != nil {
				// Learn catches and counts per-task failures itself and
				// returns a nil error.
				return err
			}

			fmt.Printf("Run completed: success_rate=%.2f total_steps=%d avg_response_time=%.2fs\n",
				result.SuccessRate, result.TotalSteps, result.AvgResponseTime)
			return nil
		},
	}

	cmd.Flags().IntVar(&loops, "loops", 1, "number of learning loop iterations")
	return cmd
}
