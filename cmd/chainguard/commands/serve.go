package commands

import (
	"context"
	"errors"

	"ChainGuard-Agent/internal/api"
	"ChainGuard-Agent/internal/auth"
	"ChainGuard-Agent/internal/observability/metrics"
	"ChainGuard-Agent/internal/task"
	"ChainGuard-Agent/pkg/logger"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the task processor",
		Long: `Starts the HTTP API. When tasks.enabled is set, queued instructions are
processed in the background. A standalone metrics listener is started when
server.metrics_address is configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.Server.Address = addr
			}

			ctx := cmd.Context()
			rt, err := buildRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			log := logger.Named("serve")
			var service *task.Service
			if cfg.Tasks.Enabled {
				tasks, err := buildTasks(ctx, rt)
				if err != nil {
					return err
				}
				service = tasks.service
				go func() {
					if err := tasks.processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						log.Error("task processor stopped", "error", err)
					}
				}()
			}

			if cfg.Server.MetricsAddress != "" {
				go func() {
					if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil {
						log.Error("metrics server stopped", "error", err)
					}
				}()
			}

			tokens := make([]auth.Token, 0, len(cfg.Server.APITokens))
			for _, tok := range cfg.Server.APITokens {
				tokens = append(tokens, auth.Token{Name: tok.Name, Value: tok.Token, Permissions: tok.Permissions})
			}
			authn, err := auth.NewService(tokens)
			if err != nil {
				return err
			}

			log.Info("api listening", "address", cfg.Server.Address, "tasks", cfg.Tasks.Enabled, "auth", authn.Enabled())
			server := api.NewServer(cfg.Server.Address, rt.agent, service, api.WithAuth(authn))
			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "override server.address")
	return cmd
}
