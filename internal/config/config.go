package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	SLA          SLAConfig
	Feed         FeedConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer-token parameters. The engine only parses caller
// identity; it never issues credentials.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// SLAConfig fixes deadline horizons and milestone behavior.
type SLAConfig struct {
	LowHours      int
	MediumHours   int
	HighHours     int
	CriticalHours int
	AtRiskHours   int
	TickSeconds   int
}

// FeedConfig names the change-feed channel.
type FeedConfig struct {
	Channel         string
	DisplayCacheTTL time.Duration
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		SLA: SLAConfig{
			LowHours:      getEnvAsInt("SLA_LOW_HOURS", 48),
			MediumHours:   getEnvAsInt("SLA_MEDIUM_HOURS", 24),
			HighHours:     getEnvAsInt("SLA_HIGH_HOURS", 12),
			CriticalHours: getEnvAsInt("SLA_CRITICAL_HOURS", 4),
			AtRiskHours:   getEnvAsInt("SLA_AT_RISK_HOURS", 4),
			TickSeconds:   getEnvAsInt("SLA_TICK_SECONDS", 1),
		},
		Feed: FeedConfig{
			Channel:         getEnv("FEED_CHANNEL", "tickets:changed"),
			DisplayCacheTTL: time.Duration(getEnvAsInt("DISPLAY_CACHE_TTL_SECONDS", 0)) * time.Second,
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// DeadlineFor returns the SLA horizon for a priority.
func (s SLAConfig) DeadlineFor(priority string) time.Duration {
	switch priority {
	case "Critical":
		return time.Duration(s.CriticalHours) * time.Hour
	case "High":
		return time.Duration(s.HighHours) * time.Hour
	case "Low":
		return time.Duration(s.LowHours) * time.Hour
	default:
		return time.Duration(s.MediumHours) * time.Hour
	}
}

// TickInterval returns the countdown evaluation cadence.
func (s SLAConfig) TickInterval() time.Duration {
	if s.TickSeconds <= 0 {
		return time.Second
	}
	return time.Duration(s.TickSeconds) * time.Second
}

// AtRiskWindow returns the remaining-time window classified as at-risk.
func (s SLAConfig) AtRiskWindow() time.Duration {
	if s.AtRiskHours <= 0 {
		return 4 * time.Hour
	}
	return time.Duration(s.AtRiskHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
