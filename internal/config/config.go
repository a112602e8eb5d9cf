package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name     string     `envconfig:"APP_NAME" default:"Haven"`
		Port     int        `envconfig:"PORT" default:"8080"`
		LogLevel slog.Level `envconfig:"LOG_LEVEL" default:"INFO"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"haven"`
	}

	Server struct {
		Timeout         time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
		AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://*,https://*"`
	}

	Auth struct {
		JWTSecret string `envconfig:"JWT_SECRET"`
	}

	Redis struct {
		Enabled  bool   `envconfig:"REDIS_ENABLED" default:"false"`
		Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		Password string `envconfig:"REDIS_PASSWORD" default:""`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
		Stream   string `envconfig:"REDIS_NOTIFY_STREAM" default:"haven:notifications"`
		MaxLen   int64  `envconfig:"REDIS_NOTIFY_MAXLEN" default:"100000"`
	}

	Escrow struct {
		ApproveTimeout time.Duration `envconfig:"ESCROW_APPROVE_TIMEOUT" default:"5s"`
		RentalPeriod   time.Duration `envconfig:"ESCROW_RENTAL_PERIOD" default:"720h"`
	}

	Notify struct {
		QueueSize   int           `envconfig:"NOTIFY_QUEUE_SIZE" default:"256"`
		Workers     int           `envconfig:"NOTIFY_WORKERS" default:"2"`
		MaxAttempts int           `envconfig:"NOTIFY_MAX_ATTEMPTS" default:"3"`
		BaseDelay   time.Duration `envconfig:"NOTIFY_BASE_DELAY" default:"200ms"`
	}

	Ledger struct {
		ReconcileInterval time.Duration `envconfig:"LEDGER_RECONCILE_INTERVAL" default:"10m"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}
