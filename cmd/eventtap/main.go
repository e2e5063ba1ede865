// eventtap connects to the Streamlabs socket and prints normalized events to the console.
// Usage: go run ./cmd/eventtap --config configs/tracer.local.yaml [--streamer alice] [--verbose]
//
// Socket tokens are read from the config file, usually via ${VAR} references
// resolved from the environment or a .env file next to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rickgao/streamlabs-tracer/internal/config"
	"github.com/rickgao/streamlabs-tracer/internal/connection"
	"github.com/rickgao/streamlabs-tracer/internal/dispatch"
	"github.com/rickgao/streamlabs-tracer/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/tracer.example.yaml", "path to config file")
	streamer := flag.String("streamer", "", "only connect this streamer nickname")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	identities := selectIdentities(cfg.Identities(), *streamer)
	if len(identities) == 0 {
		logger.Error("no matching streamer in config", "streamer", *streamer)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	var rejected atomic.Bool
	mgr := connection.NewManager(cfg.ManagerConfig(), identities, dispatch.NewPrinter(os.Stdout, *verbose), logger,
		connection.WithStopHook(func(reason string, automatic bool) {
			if automatic {
				rejected.Store(true)
				cancel()
			}
		}),
		connection.WithErrorHandler(func(streamer string, err error) {
			fmt.Fprintf(os.Stdout, "[ERROR] streamer=%s %v\n", streamer, err)
		}),
	)

	logger.Info("starting streamlabs client", "streamers", len(identities))
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start streamlabs client", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.Stats()
				logger.Info("stats",
					"sessions", stats.Sessions,
					"authorized", stats.Authorized,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	if err := shutdown(mgr, "shutdown"); err != nil {
		logger.Error("failed to stop streamlabs client", "error", err)
	}

	if rejected.Load() {
		logger.Error("a socket token was rejected by the server")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// shutdown stops mgr unless a session already stopped it.
func shutdown(mgr interface{ Stop(string) error }, reason string) error {
	if err := mgr.Stop(reason); err != nil && !errors.Is(err, connection.ErrAlreadyStopped) {
		return err
	}
	return nil
}

// selectIdentities keeps only the named streamer, or all when name is empty.
func selectIdentities(ids []model.Identity, name string) []model.Identity {
	if name == "" {
		return ids
	}
	for _, id := range ids {
		if id.Nickname == name {
			return []model.Identity{id}
		}
	}
	return nil
}
