package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime setting read from the environment.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	JWTSecret   string
	JWTTTL      time.Duration
	AdminAPIKey string

	Database DatabaseConfig
	Store    StoreConfig
	MediaDir string

	Instance InstanceConfig
	FollowUp FollowUpConfig

	LogRetryInterval time.Duration

	AMQPURL      string
	AMQPExchange string
}

// DatabaseConfig selects and addresses the relational database.
type DatabaseConfig struct {
	Type       string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string
	LogSQL     bool
}

// StoreConfig addresses the credential store used by the WhatsApp sessions.
type StoreConfig struct {
	Driver string
	DSN    string
	Dir    string
}

// InstanceConfig is the reconnect policy of agent instances.
type InstanceConfig struct {
	ReconnectDelay       time.Duration
	LogoutRestartDelay   time.Duration
	MaxReconnectAttempts int
}

// FollowUpConfig is the escalation policy of the follow-up scheduler.
type FollowUpConfig struct {
	CheckInterval time.Duration
	Interval      time.Duration
	PostponeDelay time.Duration
	MaxAttempts   int
}

// IsDevelopment reports whether the process runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Port:     getEnv("PORT", "9090"),
		Env:      getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:   getEnv("JWT_SECRET", "soporte-wa-dev-secret-change-in-production"),
		JWTTTL:      p.duration("JWT_TTL", 24*time.Hour),
		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),

		Database: DatabaseConfig{
			Type:       strings.ToLower(getEnv("DB_TYPE", "sqlite")),
			Host:       os.Getenv("DB_HOST"),
			Port:       os.Getenv("DB_PORT"),
			User:       os.Getenv("DB_USER"),
			Password:   os.Getenv("DB_PASSWORD"),
			Name:       getEnv("DB_NAME", "soporte_wa"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "soporte.db"),
			LogSQL:     p.boolean("DB_LOG_SQL", false),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("WA_STORE_DRIVER", "sqlite")),
			DSN:    os.Getenv("WA_STORE_DSN"),
			Dir:    getEnv("WA_STORE_DIR", "auth_sessions"),
		},
		MediaDir: getEnv("MEDIA_DIR", "data/media"),

		Instance: InstanceConfig{
			ReconnectDelay:       p.duration("WA_RECONNECT_DELAY", 5*time.Second),
			LogoutRestartDelay:   p.duration("WA_LOGOUT_RESTART_DELAY", 2*time.Second),
			MaxReconnectAttempts: p.integer("WA_MAX_RECONNECT_ATTEMPTS", 3),
		},
		FollowUp: FollowUpConfig{
			CheckInterval: p.duration("FOLLOWUP_CHECK_INTERVAL", time.Hour),
			Interval:      p.duration("FOLLOWUP_INTERVAL", 24*time.Hour),
			PostponeDelay: p.duration("FOLLOWUP_POSTPONE_DELAY", 5*time.Minute),
			MaxAttempts:   p.integer("FOLLOWUP_MAX_ATTEMPTS", 3),
		},

		LogRetryInterval: p.duration("LOG_RETRY_INTERVAL", 30*time.Second),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "soporte.events"),
	}

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Type {
	case "sqlite", "mysql", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q", c.Database.Type)
	}
	switch c.Store.Driver {
	case "sqlite":
	case "postgres", "pgx":
		if c.Store.DSN == "" {
			return fmt.Errorf("WA_STORE_DSN is required when WA_STORE_DRIVER=%s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported WA_STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Instance.MaxReconnectAttempts < 0 {
		return fmt.Errorf("WA_MAX_RECONNECT_ATTEMPTS must not be negative")
	}
	if c.FollowUp.MaxAttempts < 1 {
		return fmt.Errorf("FOLLOWUP_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// parser keeps the first malformed value it sees.
type parser struct {
	err error
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return d
}

func (p *parser) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return n
}

func (p *parser) boolean(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(key, raw, err)
		return fallback
	}
	return b
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
