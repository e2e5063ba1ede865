package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/streamlabs-tracer/internal/config"
	"github.com/rickgao/streamlabs-tracer/internal/connection"
	"github.com/rickgao/streamlabs-tracer/internal/dispatch"
	"github.com/rickgao/streamlabs-tracer/internal/metrics"
	"github.com/rickgao/streamlabs-tracer/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/tracer.local.yaml", "path to config file")
	flag.Parse()

	// Bootstrap logger until the configured level is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	logger.Info("starting tracer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.Log.Level)
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"socket_url", cfg.Streamlabs.SocketURL,
		"streamers", len(cfg.Streamers),
		"dispatch_mode", cfg.Dispatch.Mode,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	m.SetBuildInfo(version.Version, version.Commit)

	// Dispatcher
	dispatcher, closeDispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	defer closeDispatcher()

	// A rejected token stops every session; nothing reconnects, so exit.
	var exitCode atomic.Int32
	mgr := connection.NewManager(cfg.ManagerConfig(), cfg.Identities(), dispatcher, logger,
		connection.WithMetrics(m),
		connection.WithStopHook(func(reason string, automatic bool) {
			if automatic {
				exitCode.Store(1)
				cancel()
			}
		}),
	)

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start streamlabs client", "error", err)
		os.Exit(1)
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(mgr, reg, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("shutting down...")
		if mgr.IsStarted() {
			if err := mgr.Stop("shutdown"); err != nil && !errors.Is(err, connection.ErrAlreadyStopped) {
				logger.Warn("failed to stop streamlabs client", "error", err)
			}
		}

		// Graceful shutdown of health server
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	logger.Info("tracer running",
		"streamers", len(cfg.Streamers),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("tracer failed", "error", err)
		exitCode.Store(1)
	}

	logger.Info("tracer stopped", "exit_code", exitCode.Load())
	closeDispatcher()
	os.Exit(int(exitCode.Load()))
}

// newDispatcher builds the configured dispatcher. The returned func releases
// its resources and is safe to call more than once.
func newDispatcher(ctx context.Context, cfg *config.TracerConfig, logger *slog.Logger) (dispatch.Dispatcher, func(), error) {
	logDispatcher := dispatch.NewLogger(logger)

	switch cfg.Dispatch.Mode {
	case config.DispatchModeRedis:
		client, err := dispatch.NewRedisClient(ctx, cfg.RedisOptions())
		if err != nil {
			return nil, nil, err
		}
		logger.Info("publishing events to redis",
			"addrs", cfg.Dispatch.Redis.Addrs,
			"channel", cfg.Dispatch.Redis.Channel,
		)

		var closed atomic.Bool
		closeFn := func() {
			if closed.CompareAndSwap(false, true) {
				client.Close()
			}
		}
		return dispatch.Multi{dispatch.NewRedis(client, cfg.Dispatch.Redis.Channel), logDispatcher}, closeFn, nil

	default:
		return logDispatcher, func() {}, nil
	}
}
