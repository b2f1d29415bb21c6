/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rewards engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load the YAML config
  2. Set up structured logging
  3. Initialize SQLite store
  4. Build the program and the rewards engine
  5. Register metrics, start the reconciliation scheduler
  6. Configure the HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional; defaults apply without it)
  -port    HTTP server port, overrides the config listen address
  -db      SQLite database path, overrides the config
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown_timeout)
  3. Stop the reconciliation scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with a config file
  ./server -config=./rewards.yaml

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Config file format
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/warp/rewards-engine/api"
	"github.com/warp/rewards-engine/config"
	"github.com/warp/rewards-engine/factory"
	"github.com/warp/rewards-engine/logging"
	"github.com/warp/rewards-engine/observability"
	"github.com/warp/rewards-engine/rewards"
	"github.com/warp/rewards-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	if err := run(*configPath, *port, *dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "rewards server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, port int, dbPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if port > 0 {
		cfg.ListenAddress = fmt.Sprintf(":%d", port)
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}

	logger, logCloser := logging.Setup("rewards-engine", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	// Initialize store
	if !strings.Contains(cfg.DatabasePath, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	program, err := factory.NewProgramFactory().FromSpec(cfg.Program)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	engine, err := rewards.NewEngine(store, rewards.Config{
		Program:     program,
		Authorizer:  rewards.NewStaticAuthorizer(cfg.Admins...),
		LockTimeout: cfg.LockTimeout.Duration,
		Logger:      logger,
		Observer:    metrics,
	})
	if err != nil {
		return err
	}
	if len(cfg.Admins) == 0 {
		logger.Warn("no admins configured; admin endpoints will reject every request")
	}

	scheduler := api.NewReconciliationScheduler(store, engine.Ledger, logger, metrics)
	scheduler.CheckInterval = cfg.Reconcile.Interval.Duration
	scheduler.Enabled = !cfg.Reconcile.Disabled
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	handler := api.NewHandler(engine, logger)
	handler.Scheduler = scheduler
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        metrics,
		Gatherer:       registry,
		Limiter:        api.NewRateLimiter(cfg.RateLimit.Rate(), cfg.RateLimit.Burst, metrics),
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.ListenAddress),
			slog.String("database", cfg.DatabasePath),
			slog.String("timezone", program.Location.String()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
