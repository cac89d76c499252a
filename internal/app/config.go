package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/coursebuilder/internal/platform/envutil"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type DBConfig struct {
	Driver        string        `yaml:"driver"`
	DSN           string        `yaml:"dsn"`
	Host          string        `yaml:"host"`
	Port          string        `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	SQLitePath    string        `yaml:"sqlite_path"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
}

type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Headers     string  `yaml:"headers"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type Config struct {
	Env      string `yaml:"env"`
	LogMode  string `yaml:"log_mode"`
	HTTPAddr string `yaml:"http_addr"`

	DB           DBConfig    `yaml:"db"`
	LockStrategy string      `yaml:"lock_strategy"`
	Retry        RetryConfig `yaml:"retry"`

	Redis        RedisConfig   `yaml:"redis"`
	GateCacheTTL time.Duration `yaml:"gate_cache_ttl"`

	JWTSecretKey   string        `yaml:"jwt_secret_key"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	CORSOrigins    []string      `yaml:"cors_origins"`

	MetricsEnabled bool       `yaml:"metrics_enabled"`
	MetricsAddr    string     `yaml:"metrics_addr"`
	Otel           OtelConfig `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		Env:      "development",
		LogMode:  "development",
		HTTPAddr: ":8080",
		DB: DBConfig{
			Driver:        "postgres",
			Host:          "localhost",
			Port:          "5432",
			User:          "postgres",
			Name:          "coursebuilder",
			SQLitePath:    "coursebuilder.db",
			SlowThreshold: 200 * time.Millisecond,
			MaxOpenConns:  20,
			LockTimeout:   5 * time.Second,
		},
		LockStrategy: "row",
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 25 * time.Millisecond,
		},
		Redis:          RedisConfig{Channel: "collection"},
		GateCacheTTL:   30 * time.Second,
		AccessTokenTTL: time.Hour,
		Otel:           OtelConfig{SampleRatio: 0.1},
	}
}

// LoadConfig layers defaults, then the YAML file named by CONFIG_FILE, then
// environment variables.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()
	if path := envutil.String("CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if log != nil {
			log.Info("Loaded config file", "path", path)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("APP_ENV", cfg.Env)
	cfg.LogMode = envutil.String("LOG_MODE", cfg.LogMode)
	cfg.HTTPAddr = envutil.String("HTTP_ADDR", cfg.HTTPAddr)

	cfg.DB.Driver = strings.ToLower(envutil.String("DB_DRIVER", cfg.DB.Driver))
	cfg.DB.DSN = envutil.String("POSTGRES_DSN", cfg.DB.DSN)
	cfg.DB.Host = envutil.String("POSTGRES_HOST", cfg.DB.Host)
	cfg.DB.Port = envutil.String("POSTGRES_PORT", cfg.DB.Port)
	cfg.DB.User = envutil.String("POSTGRES_USER", cfg.DB.User)
	cfg.DB.Password = envutil.String("POSTGRES_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = envutil.String("POSTGRES_NAME", cfg.DB.Name)
	cfg.DB.SQLitePath = envutil.String("SQLITE_PATH", cfg.DB.SQLitePath)
	cfg.DB.SlowThreshold = envutil.Duration("DB_SLOW_THRESHOLD", cfg.DB.SlowThreshold)
	cfg.DB.MaxOpenConns = envutil.Int("DB_MAX_OPEN_CONNS", cfg.DB.MaxOpenConns)
	cfg.DB.LockTimeout = envutil.Duration("LOCK_TIMEOUT", cfg.DB.LockTimeout)

	cfg.LockStrategy = strings.ToLower(envutil.String("LOCK_STRATEGY", cfg.LockStrategy))
	cfg.Retry.MaxAttempts = envutil.Int("RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)
	cfg.Retry.InitialInterval = envutil.Duration("RETRY_INITIAL_INTERVAL", cfg.Retry.InitialInterval)

	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Channel = envutil.String("REDIS_CHANNEL", cfg.Redis.Channel)
	cfg.GateCacheTTL = envutil.Duration("GATE_CACHE_TTL", cfg.GateCacheTTL)

	cfg.JWTSecretKey = envutil.String("JWT_SECRET_KEY", cfg.JWTSecretKey)
	cfg.AccessTokenTTL = envutil.Duration("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	cfg.CORSOrigins = envutil.List("CORS_ORIGINS", cfg.CORSOrigins)

	cfg.MetricsEnabled = envutil.Bool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = envutil.String("METRICS_ADDR", cfg.MetricsAddr)
	cfg.Otel.Enabled = envutil.Bool("OTEL_ENABLED", cfg.Otel.Enabled)
	cfg.Otel.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Otel.Endpoint)
	cfg.Otel.Headers = envutil.String("OTEL_EXPORTER_OTLP_HEADERS", cfg.Otel.Headers)
	cfg.Otel.Insecure = envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", cfg.Otel.Insecure)
	cfg.Otel.SampleRatio = envutil.Float("OTEL_SAMPLER_RATIO", cfg.Otel.SampleRatio)
}

func (c Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver)
	}
	switch c.LockStrategy {
	case "row", "advisory":
	default:
		return fmt.Errorf("LOCK_STRATEGY must be row or advisory, got %q", c.LockStrategy)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if strings.TrimSpace(c.JWTSecretKey) == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	return nil
}
