package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/illmade-knight/go-sensorbridge/pkg/bridge"
	"github.com/illmade-knight/go-sensorbridge/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "sensorbridge",
		Short: "Persist sensor events from MQTT or Pub/Sub into a document store",
		Long: `sensorbridge subscribes to a sensor topic, normalizes each JSON event
and writes it to the database and collection the event names, falling back
to a configured default destination.

Configuration is read from defaults, then an optional YAML file
(--config or $BRIDGE_CONFIG), then environment variables such as
MQTT_USER, MQTT_PASS, MONGO_URI and PORT.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			logger, err := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML config file (default: $BRIDGE_CONFIG)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	return cmd
}

// newLogger builds the process logger. format "console" gives human readable
// output; anything else is JSON.
func newLogger(out io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "sensorbridge").Logger(), nil
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	svc, err := bridge.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to assemble sensor bridge: %w", err)
	}
	if err := startService(ctx, svc, cfg.ShutdownTimeout, logger); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received.")
	case <-svc.Done():
		logger.Warn().Msg("Listener exited on its own, shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown incomplete.")
	}
	return nil
}

type service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// startService starts svc. On failure it stops svc within timeout so the
// clients it holds are closed before the error is returned.
func startService(ctx context.Context, svc service, timeout time.Duration, logger zerolog.Logger) error {
	err := svc.Start(ctx)
	if err == nil {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if stopErr := svc.Stop(stopCtx); stopErr != nil {
		logger.Error().Err(stopErr).Msg("Cleanup after failed start incomplete.")
	}
	return fmt.Errorf("failed to start sensor bridge: %w", err)
}
