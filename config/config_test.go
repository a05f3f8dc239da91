package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "region_chunks", cfg.Database.Table)
	assert.Equal(t, "regions.yaml", cfg.Regions.File)
	assert.False(t, cfg.Regions.Strict)
	assert.False(t, cfg.Redis.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_SQLITE_PATH", "/tmp/regions.db")
	t.Setenv("REGIONS_STRICT", "true")
	t.Setenv("SERVER_READ_TIMEOUT", "5s")
	t.Setenv("DB_MAX_CONNS", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/regions.db", cfg.Database.SQLitePath)
	assert.True(t, cfg.Regions.Strict)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"empty table", func(c *Config) { c.Database.Table = "" }, "DB_CHUNK_TABLE"},
		{"pool bounds", func(c *Config) { c.Database.MaxConns = 1; c.Database.MinConns = 4 }, "DB_MAX_CONNS"},
		{"no regions file", func(c *Config) { c.Regions.File = "" }, "REGIONS_FILE"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "REDIS_ADDR"},
		{"cache without room", func(c *Config) { c.Cache.MaxSize = 0 }, "CACHE_MAX_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			if assert.ErrorAs(t, err, &cfgErr) {
				assert.Equal(t, tt.field, cfgErr.Field)
			}
		})
	}
}

func TestConfig_ValidateReportsEveryField(t *testing.T) {
	cfg := LoadConfig()
	cfg.Database.Driver = DriverSQLite
	cfg.Database.SQLitePath = ""
	cfg.Database.Table = ""
	cfg.Regions.File = ""

	errs := multierr.Errors(cfg.Validate())
	fields := make([]string, 0, len(errs))
	for _, err := range errs {
		var cfgErr *ConfigError
		if assert.ErrorAs(t, err, &cfgErr) {
			fields = append(fields, cfgErr.Field)
		}
	}
	assert.Equal(t, []string{"DB_SQLITE_PATH", "DB_CHUNK_TABLE", "REGIONS_FILE"}, fields)
}
