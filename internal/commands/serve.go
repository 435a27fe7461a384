package commands

import (
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imjszhang/wiseflow/internal/api"
)

func newServeCmd() *cobra.Command {
	var learnLoops int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API, optionally running the learning loop",
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

			api.SetVersion(appVersion)
			server := &http.Server{
				Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
				Handler: api.NewServer(rt.agent).Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				rt.log.Info().Str("addr", server.Addr).Msg("status API listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			if learnLoops > 0 {
				go func() {
					result, err := rt.agent.Learn(ctx, "", learnLoops)
					if err != nil {
						rt.log.Error().Err(err).Msg("learn loop failed")
						return
					}
					rt.log.Info().
						Float64("success_rate", result.SuccessRate).
						Int("total_steps", result.TotalSteps).
						Msg("learn loop finished")
				}()
			}

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := contextWithTimeout(10 * time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&learnLoops, "learn-loops", 0, "run this many learning loops while serving (0 = serve only)")
	return cmd
}
