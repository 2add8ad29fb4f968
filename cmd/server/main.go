/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the compte engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, environment)
  2. Build the zap logger
  3. Open the primary store (SQLite) and the cold store (gorm)
  4. Pick the locker: redis when REDIS_URL is set, in-process otherwise
  5. Wire service, sweeper, scheduler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional YAML configuration file

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the lifecycle scheduler (waits for an in-flight tick)
  2. Stop accepting new connections
  3. Wait for active requests (HTTP_SHUTDOWN_TIMEOUT)
  4. Close stores and flush logs

EXAMPLES:
  # Defaults: comptes.db + comptes_archive.db, port 8080
  ./server

  # Postgres archive and shared locks
  COLD_DB_DRIVER=postgres COLD_DB_DSN="postgres://..." REDIS_URL=redis://localhost:6379/0 ./server

SEE ALSO:
  - config/config.go: every setting and its environment variable
  - api/server.go: Router configuration
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

	"github.com/warp/compte-engine/account"
	"github.com/warp/compte-engine/api"
	"github.com/warp/compte-engine/banking"
	"github.com/warp/compte-engine/config"
	"github.com/warp/compte-engine/logging"
	"github.com/warp/compte-engine/store/cold"
	"github.com/warp/compte-engine/store/redislock"
	"github.com/warp/compte-engine/store/sqlite"
	"github.com/warp/compte-engine/sweep"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "compte-engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, syncLogs, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer syncLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores
	primary, err := sqlite.Open(cfg.Primary.Path, sqlite.Options{
		MaxOpenConns:    cfg.Primary.MaxOpenConns,
		MaxIdleConns:    cfg.Primary.MaxIdleConns,
		ConnMaxLifetime: cfg.Primary.ConnMaxLifetime,
		PingTimeout:     cfg.Primary.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("open primary store: %w", err)
	}
	defer primary.Close()

	archive, err := cold.Open(ctx, cold.Options{
		Driver:       cfg.Cold.Driver,
		DSN:          cfg.Cold.DSN,
		MaxOpenConns: cfg.Cold.MaxOpenConns,
		PingTimeout:  cfg.Primary.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("open cold store: %w", err)
	}
	defer archive.Close()

	// Locks
	var locker banking.Locker = banking.NewKeyedLocker()
	if cfg.Redis.URL != "" {
		client, err := redislock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		locker = redislock.New(client, redislock.WithTTL(cfg.Redis.LockTTL))
		logger.Info("Using redis account locks")
	}

	// Domain
	clock := banking.SystemClock{}
	svc := account.NewService(account.Deps{
		Store:       primary,
		Cold:        archive,
		Locker:      locker,
		Clock:       clock,
		Credentials: account.NewBcryptIssuer(cfg.Security.BcryptCost, cfg.Security.PasswordLength, cfg.Security.CodeLength),
	})
	sweeper := sweep.New(sweep.Deps{Store: primary, Cold: archive, Locker: locker, Clock: clock})
	sched := sweep.NewScheduler(sweeper, cfg.Scheduler.Interval, cfg.Scheduler.Timeout)
	if cfg.Scheduler.Enabled {
		sched.Start()
		defer sched.Stop()
	} else {
		logger.Info("Lifecycle scheduler disabled")
	}

	handler := api.NewHandler(svc, sweeper, sched, primary)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.HTTP.AllowedOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("primary", cfg.Primary.Path),
			zap.String("cold_driver", cfg.Cold.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
