package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contractml/internal/api"
	"github.com/sells-group/contractml/internal/config"
	"github.com/sells-group/contractml/internal/monitoring"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort int
	serveWarm bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the contract execution HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEngine(ctx, cfg, "serve", prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer env.Close()

		if serveWarm {
			report, err := env.Registry.Warm(ctx, 0)
			if err != nil {
				return eris.Wrap(err, "warm contract cache")
			}
			for key, reason := range report.Failed {
				zap.L().Warn("contract failed to load", zap.String("contract", key), zap.String("error", reason))
			}
		}

		startBackground(ctx, env, cfg)

		srv := newServer(env, cfg.Server)

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.Int("contracts", len(env.Registry.ListContracts())),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newServer builds the HTTP server for the registry. Metrics are served
// from the default gatherer the serve command registers with.
func newServer(env *engineEnv, sc config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.Port),
		Handler:           api.NewRouter(env.Registry, api.Options{Server: sc}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// startBackground launches the cache sweeper and, when enabled, the
// execution log alert checker. Both stop with ctx.
func startBackground(ctx context.Context, env *engineEnv, c *config.Config) {
	if interval := c.Contracts.SweepInterval(); interval > 0 {
		go env.Registry.RunSweeper(ctx, interval)
	}

	if c.Monitoring.Enabled && env.Store != nil {
		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(c.Monitoring),
			c.Monitoring,
		)
		go checker.Run(ctx)
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWarm, "warm", false, "load every discoverable contract before serving")
	rootCmd.AddCommand(serveCmd)
}
