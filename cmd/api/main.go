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

	"golang.org/x/sync/errgroup"

	httpadp "invoice-engine/internal/adapter/http"
	"invoice-engine/internal/adapter/repository/gormrepo"
	"invoice-engine/internal/config"
	"invoice-engine/internal/extract"
	"invoice-engine/internal/infrastructure/cache"
	"invoice-engine/internal/infrastructure/db"
	"invoice-engine/internal/infrastructure/lock"
	"invoice-engine/internal/jobs"
	"invoice-engine/internal/observability"
	"invoice-engine/internal/ocr"
	"invoice-engine/internal/usecase/assembly"
	"invoice-engine/internal/usecase/ingest"
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
	if err := gormrepo.AutoMigrate(gdb); err != nil {
		logger.Error("migrate", slog.Any("error", err))
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

	// uploads fail with a configuration error until credentials are set
	var provider ocr.Provider
	if azure, err := ocr.NewAzureProvider(cfg.AzureVisionEndpoint, cfg.AzureVisionKey, cfg.OCRLanguage); err != nil {
		logger.Warn("ocr provider not configured", slog.Any("error", err))
		provider = ocr.ProviderFunc(func(context.Context, string) ([]string, error) { return nil, err })
	} else {
		provider = azure
	}
	orchestrator := ocr.New(provider, ocr.Config{
		Timeout:     cfg.OCRTimeout,
		MaxAttempts: cfg.OCRMaxAttempts,
		Enhance:     cfg.OCREnhanceImages,
		Locale:      extract.LocaleAuto,
	}, ocr.WithRecorder(metrics), ocr.WithLogger(logger))

	tx := gormrepo.NewGormUoW(gdb)
	invoices := gormrepo.NewInvoiceRepository(gdb)
	hist := gormrepo.NewHistoryRepository(gdb)

	assembler := assembly.NewAssembler(tx,
		assembly.WithDefaultActor(cfg.DefaultActor),
		assembly.WithLogger(logger))
	lifecycleUC := lifecycle.NewUsecase(invoices, hist, tx,
		lifecycle.WithLocker(lock.NewRedisLocker(rdb)),
		lifecycle.WithRecorder(metrics),
		lifecycle.WithLogger(logger),
		lifecycle.WithDefaultActor(cfg.DefaultActor),
		lifecycle.WithMaxRetries(cfg.StatusMaxRetries))

	ingestOpts := []ingest.Option{ingest.WithLogger(logger)}
	if cfg.AutoSubmitForReview {
		client := jobs.NewClient(cache.AsynqOpt(rdb), cfg.StatusMaxRetries)
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		ingestOpts = append(ingestOpts, ingest.WithAutoSubmit(client))
	}
	ingestUC := ingest.NewUsecase(orchestrator, assembler, ingestOpts...)

	sqlDB, err := gdb.DB()
	if err != nil {
		logger.Error("database handle", slog.Any("error", err))
		os.Exit(1)
	}
	health := httpadp.NewHandler(
		httpadp.Check{Name: "database", Fn: sqlDB.PingContext},
		httpadp.Check{Name: "redis", Fn: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)
	invoiceHandler := httpadp.NewInvoiceHandler(ingestUC, lifecycleUC, httpadp.UploadConfig{
		Dir:      cfg.UploadDir,
		MaxBytes: cfg.UploadMaxBytes,
	}, logger)

	e := httpadp.NewRouter(health, invoiceHandler, httpadp.RouterConfig{
		Redis:            rdb,
		IdempotencyTTL:   time.Duration(cfg.IdempTTLSecs) * time.Second,
		DefaultActor:     cfg.DefaultActor,
		UploadRatePerMin: cfg.UploadRatePerMin,
		UploadMaxBytes:   cfg.UploadMaxBytes,
		Production:       cfg.IsProduction(),
		Metrics:          metrics,
		Logger:           logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.AppPort
		logger.Info("listening", slog.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
