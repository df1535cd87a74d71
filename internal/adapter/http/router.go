package http

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/unrolled/secure"

	"invoice-engine/internal/adapter/middleware"
	"invoice-engine/internal/observability"
)

type RouterConfig struct {
	// Redis enables the idempotency middleware on mutating routes when set.
	Redis          *redis.Client
	IdempotencyTTL time.Duration
	DefaultActor   string

	UploadRatePerMin int
	UploadMaxBytes   int64
	Production       bool

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func NewRouter(h *Handler, inv *InvoiceHandler, cfg RouterConfig) *echo.Echo {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("err", v.Error))
			}
			logger.LogAttrs(context.Background(), slog.LevelInfo, "request", attrs...)
			return nil
		},
	}))
	e.Use(echo.WrapMiddleware(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		IsDevelopment:      !cfg.Production,
	}).Handler))
	e.Use(cfg.Metrics.Middleware())

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(cfg.Metrics.Handler()))

	// the body limit runs ahead of idempotency, which buffers the body
	g := e.Group("/invoices")
	if cfg.UploadMaxBytes > 0 {
		g.Use(echomw.BodyLimit(bodyLimit(cfg.UploadMaxBytes)))
	}
	if cfg.Redis != nil {
		g.Use(middleware.Idempotency(middleware.IdempotencyConfig{
			Redis:        cfg.Redis,
			TTL:          cfg.IdempotencyTTL,
			DefaultActor: cfg.DefaultActor,
			MaxBodyBytes: bodyLimitBytes(cfg.UploadMaxBytes),
			Logger:       logger,
		}))
	}

	upload := []echo.MiddlewareFunc{}
	if cfg.UploadRatePerMin > 0 {
		upload = append(upload, echo.WrapMiddleware(httprate.LimitByIP(cfg.UploadRatePerMin, time.Minute)))
	}
	g.POST("/upload", inv.Upload, upload...)

	g.GET("/:invoice_id", inv.GetInvoice)
	g.GET("/:invoice_id/history", inv.History)
	g.GET("/:invoice_id/transitions", inv.Transitions)
	g.GET("/:invoice_id/transitions/:status", inv.CanChangeStatus)
	g.POST("/:invoice_id/status", inv.ChangeStatus)
	g.POST("/:invoice_id/actions/:action", inv.WorkflowAction)

	return e
}

// bodyLimit renders n bytes in the unit syntax echo's BodyLimit parses,
// leaving room for the multipart envelope.
func bodyLimit(n int64) string {
	kb := n/1024 + 64
	return strconv.FormatInt(kb, 10) + "K"
}

// bodyLimitBytes is the byte count bodyLimit(n) allows; zero leaves the
// idempotency default in place.
func bodyLimitBytes(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n/1024 + 64) * 1024
}
