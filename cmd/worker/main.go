package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"invoice-engine/internal/adapter/repository/gormrepo"
	"invoice-engine/internal/config"
	"invoice-engine/internal/infrastructure/cache"
	"invoice-engine/internal/infrastructure/db"
	"invoice-engine/internal/infrastructure/lock"
	"invoice-engine/internal/jobs"
	"invoice-engine/internal/observability"
	"invoice-engine/internal/usecase/lifecycle"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Default().Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	gdb, err := db.OpenGorm(cfg.DBDriver, cfg.DSN(), cfg.LogLevel == "debug")
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}

	rdb, err := cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	tx := gormrepo.NewGormUoW(gdb)
	lifecycleUC := lifecycle.NewUsecase(
		gormrepo.NewInvoiceRepository(gdb), gormrepo.NewHistoryRepository(gdb), tx,
		lifecycle.WithLocker(lock.NewRedisLocker(rdb)),
		lifecycle.WithRecorder(metrics),
		lifecycle.WithLogger(logger),
		lifecycle.WithDefaultActor(cfg.DefaultActor),
		lifecycle.WithMaxRetries(cfg.StatusMaxRetries))

	actionJob := jobs.NewWorkflowActionJob(lifecycleUC, logger, metrics)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cache.AsynqOpt(rdb),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWorkflowAction, Handler: actionJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := e.Start(":" + cfg.WorkerMetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
