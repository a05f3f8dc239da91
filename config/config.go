package config

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Regions  RegionsConfig
	Logging  LoggingConfig
	Cache    CacheConfig
	Metrics  MetricsConfig
	Redis    RedisConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds chunk store configuration
type DatabaseConfig struct {
	Driver string // "postgres" or "sqlite"

	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	Table    string

	// Connection pool settings
	MaxConns int
	MinConns int

	// SQLite settings
	SQLitePath string
}

// RegionsConfig points at the region declaration file
type RegionsConfig struct {
	File   string
	Strict bool
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// CacheConfig holds the region listing cache configuration
type CacheConfig struct {
	Enabled         bool
	MaxSize         int
	CleanupInterval time.Duration
	DefaultTTL      time.Duration
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// RedisConfig configures the move notification publisher
type RedisConfig struct {
	Enabled bool
	Addr    string
	Channel string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LoadConfig reads the configuration from the environment. Values that do
// not parse fall back to their defaults.
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            env("SERVER_PORT", "8080", parseString),
			ReadTimeout:     env("SERVER_READ_TIMEOUT", 30*time.Second, time.ParseDuration),
			WriteTimeout:    env("SERVER_WRITE_TIMEOUT", 30*time.Second, time.ParseDuration),
			IdleTimeout:     env("SERVER_IDLE_TIMEOUT", 60*time.Second, time.ParseDuration),
			ShutdownTimeout: env("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second, time.ParseDuration),
		},
		Database: DatabaseConfig{
			Driver:     env("DB_DRIVER", DriverPostgres, parseString),
			Host:       env("DB_HOST", "localhost", parseString),
			Port:       env("DB_PORT", 5432, strconv.Atoi),
			Database:   env("DB_NAME", "postgres", parseString),
			User:       env("DB_USER", "postgres", parseString),
			Password:   env("DB_PASSWORD", "", parseString),
			SSLMode:    env("DB_SSLMODE", "prefer", parseString),
			Table:      env("DB_CHUNK_TABLE", "region_chunks", parseString),
			MaxConns:   env("DB_MAX_CONNS", 10, strconv.Atoi),
			MinConns:   env("DB_MIN_CONNS", 2, strconv.Atoi),
			SQLitePath: env("DB_SQLITE_PATH", "content-regions.db", parseString),
		},
		Regions: RegionsConfig{
			File:   env("REGIONS_FILE", "regions.yaml", parseString),
			Strict: env("REGIONS_STRICT", false, strconv.ParseBool),
		},
		Logging: LoggingConfig{
			Level:  env("LOG_LEVEL", "info", parseString),
			Format: env("LOG_FORMAT", "json", parseString),
		},
		Cache: CacheConfig{
			Enabled:         env("CACHE_ENABLED", true, strconv.ParseBool),
			MaxSize:         env("CACHE_MAX_SIZE", 1000, strconv.Atoi),
			CleanupInterval: env("CACHE_CLEANUP_INTERVAL", 5*time.Minute, time.ParseDuration),
			DefaultTTL:      env("CACHE_DEFAULT_TTL", 10*time.Minute, time.ParseDuration),
		},
		Metrics: MetricsConfig{
			Enabled:  env("METRICS_ENABLED", true, strconv.ParseBool),
			Endpoint: env("METRICS_ENDPOINT", "/metrics", parseString),
		},
		Redis: RedisConfig{
			Enabled: env("REDIS_ENABLED", false, strconv.ParseBool),
			Addr:    env("REDIS_ADDR", "localhost:6379", parseString),
			Channel: env("REDIS_CHANNEL", "content-regions.moves", parseString),
		},
	}
}

func env[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	value, err := parse(raw)
	if err != nil {
		return fallback
	}
	return value
}

func parseString(s string) (string, error) { return s, nil }

// Validate reports every invalid setting at once, each as a *ConfigError.
func (c *Config) Validate() error {
	var err error
	fail := func(field, message string) {
		err = multierr.Append(err, &ConfigError{Field: field, Message: message})
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.Host == "" {
			fail("DB_HOST", "database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			fail("DB_MAX_CONNS", "must not be lower than DB_MIN_CONNS")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			fail("DB_SQLITE_PATH", "sqlite path is required")
		}
	default:
		fail("DB_DRIVER", "unsupported driver "+strconv.Quote(c.Database.Driver))
	}
	if c.Database.Table == "" {
		fail("DB_CHUNK_TABLE", "chunk table name is required")
	}
	if c.Regions.File == "" {
		fail("REGIONS_FILE", "region declaration file is required")
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		fail("CACHE_MAX_SIZE", "must be positive when CACHE_ENABLED is set")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		fail("REDIS_ADDR", "redis address is required when REDIS_ENABLED is set")
	}
	return err
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
