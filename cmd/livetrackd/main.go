package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-livetrack/internal/config"
	"backend-livetrack/internal/db"
	"backend-livetrack/internal/server"
	"backend-livetrack/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var mainDepsProvider = defaultDeps

func main() {
	if err := newRootCmd(mainDepsProvider()).Execute(); err != nil {
		os.Exit(1)
	}
}

type mainDeps struct {
	loadConfig      func() config.Config
	openStore       func(config.Config) (*storage.Store, error)
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, Runtime, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		openStore:       db.OpenLocalStore,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func newRootCmd(deps mainDeps) *cobra.Command {
	root := &cobra.Command{
		Use:          "livetrackd",
		Short:        "Live position telemetry and safety alerting daemon",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(deps))
	root.AddCommand(newQueueCmd(deps))
	root.AddCommand(newStatusCmd(deps))
	root.AddCommand(newTokenCmd(deps))
	return root
}

func newServeCmd(deps mainDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking daemon and its host control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(deps)
		},
	}
}

// Runtime bundles what Run needs. Pool and Redis may be nil.
type Runtime struct {
	Cfg    config.Config
	Store  *storage.Store
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	Logger *slog.Logger
}

func serve(deps mainDeps) error {
	cfg := deps.loadConfig()
	logger := config.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	store, err := deps.openStore(cfg)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}

	pg, err := deps.connectPostgres(cfg)
	switch {
	case errors.Is(err, db.ErrUnreachable):
		logger.Warn("remote store unreachable; starting offline", "error", err)
	case err != nil:
		logger.Error("postgres connection failed; running without remote store", "error", err)
		pg = nil
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	rt := Runtime{Cfg: cfg, Store: store, Pool: pg, Redis: rdb, Logger: logger}
	if err := deps.run(context.Background(), rt, signals, nil); err != nil {
		logger.Error("server exited with error", "error", err)
		return err
	}
	return nil
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

// Run starts the daemon and the HTTP server and waits for termination
// signals. On the way out the live record is removed and the queue persisted.
func Run(ctx context.Context, rt Runtime, signals <-chan os.Signal, listen ListenFunc) error {
	if rt.Logger == nil {
		rt.Logger = slog.Default()
	}
	srv := server.NewServer(rt.Cfg, rt.Pool, rt.Redis, rt.Store, rt.Logger)

	if listen == nil {
		listen = defaultListen
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv.Start(runCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, rt.Cfg.ServerPort)
	}()

	var runErr error
	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.App.ShutdownWithContext(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	srv.Close()
	cancel()

	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Store != nil {
		if err := rt.Store.Close(); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
