package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Queue    Queue    `yaml:"queue"`
	Notify   Notify   `yaml:"notify"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"shiptrack"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port        string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	MetricsPort string `yaml:"metrics_port" env:"METRICS_PORT" env-default:"9091"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"shiptrack"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
	MaxConns int32  `yaml:"max_conns" env:"POSTGRES_MAX_CONNS" env-default:"10"`
	Migrate  bool   `yaml:"migrate" env:"POSTGRES_MIGRATE" env-default:"true"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	OrderTTL time.Duration `yaml:"order_ttl" env:"REDIS_ORDER_TTL" env-default:"5m"`
}

type Kafka struct {
	Brokers           []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	ObservationsTopic string   `yaml:"observations_topic" env:"KAFKA_OBSERVATIONS_TOPIC" env-default:"tracking.observations"`
	OrderSystemTopic  string   `yaml:"order_system_topic" env:"KAFKA_ORDER_SYSTEM_TOPIC" env-default:"order-system.shipments"`
	GroupID           string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"shiptrack-observations"`
	StartOffset       string   `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"earliest"`
}

type Queue struct {
	BatchSize         int           `yaml:"batch_size" env:"QUEUE_BATCH_SIZE" env-default:"25"`
	MaxAttempts       int           `yaml:"max_attempts" env:"QUEUE_MAX_ATTEMPTS" env-default:"5"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout" env:"QUEUE_VISIBILITY_TIMEOUT" env-default:"5m"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" env:"QUEUE_RETRY_BACKOFF" env-default:"30s"`
	PollInterval      time.Duration `yaml:"poll_interval" env:"QUEUE_POLL_INTERVAL" env-default:"2s"`
	InboxRetention    time.Duration `yaml:"inbox_retention" env:"QUEUE_INBOX_RETENTION" env-default:"168h"`
}

type Notify struct {
	BaseURL       string        `yaml:"base_url" env:"NOTIFY_BASE_URL" env-default:"https://api.knock.app"`
	APIKey        string        `yaml:"api_key" env:"NOTIFY_API_KEY"`
	Tenant        string        `yaml:"tenant" env:"NOTIFY_TENANT"`
	Timeout       time.Duration `yaml:"timeout" env:"NOTIFY_TIMEOUT" env-default:"10s"`
	OpsRecipients []string      `yaml:"ops_recipients" env:"NOTIFY_OPS_RECIPIENTS" env-separator:","`
}

func New() (*Config, error) {
	return Load("config.yaml")
}

// Load reads path, falling back to environment variables when the file
// is missing. Environment variables always win over the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("config env override: %w", err)
	}

	return cfg, nil
}

// SlogLevel maps Log.Level to a slog level, defaulting to info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
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
