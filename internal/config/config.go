package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppPort string `envconfig:"APP_PORT" default:"8080"`
	AppEnv  string `envconfig:"APP_ENV" default:"development"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// DBDriver is mysql or postgres.
	DBDriver    string `envconfig:"DB_DRIVER" default:"mysql"`
	MySQLHost   string `envconfig:"MYSQL_HOST" default:"mysql"`
	MySQLPort   string `envconfig:"MYSQL_PORT" default:"3306"`
	MySQLDB     string `envconfig:"MYSQL_DB" default:"invoices"`
	MySQLUser   string `envconfig:"MYSQL_USER" default:"invoices"`
	MySQLPass   string `envconfig:"MYSQL_PASS" default:"invoices"`
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	IdempTTLSecs int `envconfig:"IDEMPOTENCY_TTL_SECONDS" default:"300"`

	AzureVisionEndpoint string        `envconfig:"AZURE_VISION_ENDPOINT"`
	AzureVisionKey      string        `envconfig:"AZURE_VISION_KEY"`
	OCRLanguage         string        `envconfig:"OCR_LANGUAGE" default:"en"`
	OCRTimeout          time.Duration `envconfig:"OCR_TIMEOUT" default:"30s"`
	OCRMaxAttempts      int           `envconfig:"OCR_MAX_ATTEMPTS" default:"3"`
	OCREnhanceImages    bool          `envconfig:"OCR_ENHANCE_IMAGES" default:"true"`

	StatusMaxRetries    int    `envconfig:"STATUS_MAX_RETRIES" default:"3"`
	DefaultActor        string `envconfig:"DEFAULT_ACTOR" default:"System"`
	AutoSubmitForReview bool   `envconfig:"AUTO_SUBMIT_FOR_REVIEW" default:"false"`

	UploadDir        string `envconfig:"UPLOAD_DIR"`
	UploadMaxBytes   int64  `envconfig:"UPLOAD_MAX_BYTES" default:"20971520"`
	UploadRatePerMin int    `envconfig:"UPLOAD_RATE_PER_MIN" default:"30"`

	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	WorkerMetricsPort string `envconfig:"WORKER_METRICS_PORT" default:"9091"`
}

// Load reads .env (when present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "mysql":
		if c.MySQLHost == "" || c.MySQLPort == "" || c.MySQLDB == "" || c.MySQLUser == "" {
			return errors.New("missing MySQL config (MYSQL_HOST/PORT/DB/USER)")
		}
		// ensure port is valid
		if _, err := net.LookupPort("tcp", c.MySQLPort); err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", c.MySQLPort, err)
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("missing POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want mysql or postgres)", c.DBDriver)
	}
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if c.OCRMaxAttempts < 1 {
		return fmt.Errorf("OCR_MAX_ATTEMPTS must be >= 1, got %d", c.OCRMaxAttempts)
	}
	if c.StatusMaxRetries < 1 {
		return fmt.Errorf("STATUS_MAX_RETRIES must be >= 1, got %d", c.StatusMaxRetries)
	}
	if c.OCRTimeout <= 0 {
		return errors.New("OCR_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) mysqlAddr() string { return net.JoinHostPort(c.MySQLHost, c.MySQLPort) }

func (c *Config) MySQLDSN() string {
	// multiStatements=true is handy for migrations; parseTime needed for DATETIME
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?multiStatements=true&parseTime=true&charset=utf8mb4,utf8",
		c.MySQLUser, c.MySQLPass, c.mysqlAddr(), c.MySQLDB)
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.PostgresDSN
	}
	return c.MySQLDSN()
}

func (c *Config) OCRConfigured() bool {
	return c.AzureVisionEndpoint != "" && c.AzureVisionKey != ""
}

func (c *Config) IsProduction() bool { return c != nil && c.AppEnv == "production" }

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns the process logger.
func NewLogger(c *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
