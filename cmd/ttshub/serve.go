package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/ttshub/internal/config"
	"github.com/MrWong99/ttshub/internal/observe"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server.

Routes:
  GET  /v1/languages
  GET  /v1/languages/{language}/models
  POST /v1/synthesize     {"model": "...", "text": "...", "speed": 1, "speaker": 0}
  GET  /healthz, /readyz, /metrics

When started with --config, the file is watched: log level and cache
capacity changes apply immediately, other changes need a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    c.cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SampleRatio:    c.cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	a, err := c.newApp()
	if err != nil {
		return err
	}

	if c.configPath != "" {
		w, err := config.NewWatcher(c.configPath, a.ApplyConfig)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	slog.Info("ttshub starting",
		"version", version,
		"config", c.configPath,
		"listen_addr", c.cfg.Server.ListenAddr,
		"log_level", c.cfg.Server.LogLevel,
	)
	runErr := a.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("server error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
