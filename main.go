package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"todo-api/api"
	"todo-api/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(serve).Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cfg config) error {
	logger := newLogger(cfg)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("shutdown tracer provider")
		}
	}()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	e := newServer(store, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "backend": cfg.Backend}).Info("listening")
		errCh <- e.Start(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newServer(store api.Storage, cfg config, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = api.JSONSerializer{}
	e.HTTPErrorHandler = api.HTTPErrorHandler(e)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(api.RequestLogger(logger))
	e.Use(api.CORS(cfg.CORSOrigins))

	api.Register(e, store, logger)
	return e
}

// openStore builds the configured backend and layers change events and the
// Redis list cache on top of it.
func openStore(ctx context.Context, cfg config, logger *log.Logger) (storage.Backend, func(), error) {
	var (
		backend storage.Backend
		closers []func() error
	)

	switch cfg.Backend {
	case backendFile:
		backend = storage.NewFileStore(cfg.TasksFile, logger)
	case backendMemory:
		backend = storage.NewMemoryStore()
	case backendSQLite:
		db, err := storage.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		backend = db
		closers = append(closers, db.Close)
	case backendTable:
		table, err := storage.NewTableStore(cfg.StorageConnStr, cfg.TasksTable)
		if err != nil {
			return nil, nil, fmt.Errorf("table storage: %w", err)
		}
		if err := table.EnsureTable(ctx); err != nil {
			return nil, nil, fmt.Errorf("table storage: %w", err)
		}
		backend = table
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.WithError(err).Warn("close store")
			}
		}
	}
	fail := func(err error) (storage.Backend, func(), error) {
		closeAll()
		return nil, nil, err
	}

	if cfg.EventsQueue != "" {
		pub, err := storage.NewQueuePublisher(cfg.StorageConnStr, cfg.EventsQueue)
		if err != nil {
			return fail(fmt.Errorf("events queue: %w", err))
		}
		if err := pub.EnsureQueue(ctx); err != nil {
			return fail(fmt.Errorf("events queue: %w", err))
		}
		backend = storage.NewNotifier(backend, pub, logger)
	}

	if cfg.RedisConn != "" {
		opts, err := parseRedisOptions(cfg.RedisConn)
		if err != nil {
			return fail(err)
		}
		rc := redis.NewClient(opts)
		closers = append(closers, rc.Close)
		backend = storage.NewCache(backend, rc, cfg.CacheTTL)
	}

	return backend, closeAll, nil
}
