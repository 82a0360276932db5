// Package app wires configuration, storage, and services into the starryvlog
// commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/starryvlog/backend/internal/chat"
	"github.com/starryvlog/backend/internal/config"
	"github.com/starryvlog/backend/internal/db"
	"github.com/starryvlog/backend/internal/httpserver"
	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/repositories"
)

// Run executes one command: serve, migrate, or reap.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or reap")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "reap":
		return runReap(ctx)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// serve runs the API until ctx is canceled, SIGINT or SIGTERM arrives, or the
// listener fails, then drains HTTP before stopping background services.
func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	logger.Info("configuration loaded",
		"port", cfg.AppPort,
		"bucket", cfg.ObjectStore.Bucket,
		"compressThresholdBytes", cfg.Compression.ThresholdBytes,
		"messageTTL", cfg.MessageTTL,
	)

	ctx, cancelSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancelSignals()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc, err := buildServices(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	stop, err := svc.start(logging.WithLogger(context.Background(), logger))
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.AppPort, newRouter(svc.deps, logger), httpserver.DefaultTimeouts)
	logger.Info("starting http server", "addr", srv.Addr())

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "cause", context.Cause(ctx))
	case err := <-listenErr:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
		serveErr = errors.Join(serveErr, err)
	}
	if err := stop(shutdownCtx); err != nil {
		logger.Error("background services shutdown", "error", err)
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}

// runReap deletes expired messages and sessions once and exits.
func runReap(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	reaper := chat.NewReaper(
		repositories.NewPostgresMessageRepository(pool),
		repositories.NewPostgresSessionStore(pool),
		chat.ReaperConfig{},
		logger,
	)
	n, err := reaper.RunOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("reaped %d expired messages\n", n)
	return nil
}
