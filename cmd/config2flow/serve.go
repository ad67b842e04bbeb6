package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/internal/server"
	"github.com/BaSui01/config2flow/internal/telemetry"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr     string
		appsPath string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Example: `  config2flow serve
  config2flow serve --addr :9090 --config ./apps --watch
  config2flow serve --settings /etc/config2flow/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch && appsPath == "" {
				return fmt.Errorf("--watch requires --config")
			}
			if addr != "" {
				c.cfg.Server.Addr = addr
			}

			logger := initLogger(c.cfg.Log)
			defer logger.Sync()
			logger.Info("Starting config2flow",
				zap.String("version", Version),
				zap.String("build_time", BuildTime),
				zap.String("git_commit", GitCommit),
			)

			ctx := cmd.Context()
			otelProviders, err := telemetry.Init(c.cfg.Telemetry, logger)
			if err != nil {
				logger.Warn("failed to initialize telemetry", zap.Error(err))
			} else {
				defer otelProviders.Shutdown(context.WithoutCancel(ctx))
			}

			var collector *metrics.Collector
			if c.cfg.Metrics.Enabled {
				collector = metrics.NewCollector(c.cfg.Metrics.Namespace, logger)
			}

			env, err := c.newRunEnv(ctx, logger, collector)
			if err != nil {
				return err
			}
			defer env.Close(logger)

			catalog := server.NewCatalog(logger)
			if appsPath != "" {
				if err := catalog.Load(appsPath); err != nil {
					return err
				}
			}

			srv := server.New(server.Options{
				Factory: env.factory,
				Runs:    env.runs,
				Catalog: catalog,
				Metrics: collector,
				Logger:  logger,
				Config:  c.cfg.Server,
				Version: Version,
			})
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			if watch {
				srv.WatchApps(nil)
			}

			srv.WaitForShutdown(ctx)
			logger.Info("config2flow stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "", "listen address (default from settings, :8080)")
	flags.StringVarP(&appsPath, "config", "c", "", "app YAML file or directory to pre-load")
	flags.BoolVar(&watch, "watch", false, "reload pre-loaded apps when their files change")
	return cmd
}
