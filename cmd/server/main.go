/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the sales ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, LEDGER_* environment, flags)
  2. Build the zap logger
  3. Open the store (sqlite, postgres or memory)
  4. Connect the optional Redis status cache
  5. Create the service, handler and router
  6. Start the balance audit scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  Flags override the environment.
  -addr    HTTP listen address (LEDGER_ADDR, default :8080)
  -store   sqlite, postgres or memory (LEDGER_STORE)
  -db      SQLite database path (LEDGER_SQLITE_PATH, default ledger.db)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (LEDGER_SHUTDOWN_TIMEOUT)
  3. Stop the audit scheduler
  4. Close cache and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against PostgreSQL with a Redis cache
  LEDGER_STORE=postgres LEDGER_PG_DSN=postgres://... LEDGER_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Default store
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/sales-ledger/api"
	"github.com/warp/sales-ledger/cache"
	"github.com/warp/sales-ledger/config"
	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/generic/store"
	"github.com/warp/sales-ledger/observability"
	"github.com/warp/sales-ledger/sales"
	"github.com/warp/sales-ledger/store/postgres"
	"github.com/warp/sales-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

// backend is an opened store with its lifecycle hooks.
type backend struct {
	store generic.Store
	ping  func(ctx context.Context) error
	close func() error
}

func openStore(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := postgres.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, ping: s.Ping, close: s.Close}, nil
	case config.StoreMemory:
		return &backend{store: store.NewTxMemory(), close: func() error { return nil }}, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, ping: s.Ping, close: s.Close}, nil
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.Store, "store", cfg.Store, "store backend: sqlite, postgres or memory")
	flag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	be, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer be.close()
	logger.Info("store ready", zap.String("store", cfg.Store))

	metrics := observability.NewMetrics()
	opts := []sales.Option{sales.WithObserver(metrics)}

	// Optional status cache
	if cfg.RedisAddr != "" {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		opts = append(opts, sales.WithCache(cache.NewStatusCache(client, cfg.CacheTTL)))
		logger.Info("status cache enabled", zap.String("redis_addr", cfg.RedisAddr), zap.Duration("ttl", cfg.CacheTTL))
	}

	svc := sales.NewService(be.store, logger, opts...)
	handler := api.NewHandler(svc, logger)

	auditor := api.NewAuditScheduler(svc, logger)
	auditor.CheckInterval = cfg.AuditInterval
	auditor.Enabled = cfg.AuditInterval > 0

	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:    cfg.CORSOrigins,
		RateLimit:      cfg.RateLimit,
		RequestTimeout: cfg.RequestTimeout,
		Production:     cfg.IsProduction(),
		Metrics:        metrics,
		Ping:           be.ping,
		Auditor:        auditor,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	auditor.Start()
	defer auditor.Stop()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
