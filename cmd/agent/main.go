// Command agent runs the OPC UA data acquisition pipeline: it loads
// configuration, starts the supervisor tree wiring C1-C9, and blocks until
// SIGINT or SIGTERM before shutting the pipeline down in order.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldpulse/daqagent/internal/config"
	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Int("server_count", len(cfg.Servers)).Msg("starting data acquisition agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := supervisor.NewAgent()
	if err := a.Start(ctx, *cfg); err != nil {
		logging.Fatal().Err(err).Msg("failed to start agent")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	cancel()

	if err := a.Stop(shutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("agent shutdown reported an error")
	}

	logging.Info().Msg("agent stopped gracefully")
}
