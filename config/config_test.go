package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store.Driver)
	assert.Equal(t, 8002, cfg.HTTP.Port)
	assert.Equal(t, "sisdb2025", cfg.Database.Name)
	assert.Equal(t, 3, cfg.Membership.MaxConflictRetries)
	assert.False(t, cfg.UsesRedis())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFile_MissingFileIsIgnored(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, `
app:
  environment: staging
http:
  port: 9000
  allowed_origins: ["http://localhost:3000"]
store:
  driver: redis
users:
  base_url: http://users:8001
  timeout: 2s
events:
  driver: redis
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, StoreRedis, cfg.Store.Driver)
	assert.Equal(t, "http://users:8001", cfg.Users.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Users.Timeout)
	assert.True(t, cfg.UsesRedis())

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost", cfg.Redis.Host)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "http:\n  port: 9000\nstore:\n  driver: redis\n")

	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("USERS_SERVICE_URL", "http://msvc-usuarios:8001")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("MEMBERSHIP_MAX_CONFLICT_RETRIES", "5")
	t.Setenv("USERS_RATE_LIMIT", "2.5")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "http://msvc-usuarios:8001", cfg.Users.BaseURL)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 5, cfg.Membership.MaxConflictRetries)
	assert.InDelta(t, 2.5, cfg.Users.RateLimit, 1e-9)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	path := writeFile(t, "http: [unclosed")

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoad_UsesConfigFileEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeFile(t, "http:\n  port: 9300\n"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.HTTP.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "mongo" }, "STORE_DRIVER"},
		{"memory in production", func(c *Config) {
			c.App.Environment = EnvProduction
			c.Store.Driver = StoreMemory
		}, "not allowed in production"},
		{"bad environment", func(c *Config) { c.App.Environment = "qa" }, "APP_ENV"},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, "HTTP_PORT"},
		{"relative users url", func(c *Config) { c.Users.BaseURL = "/api" }, "USERS_SERVICE_URL"},
		{"negative rate", func(c *Config) { c.Users.RateLimit = -1 }, "USERS_RATE_LIMIT"},
		{"no attempts", func(c *Config) { c.Users.MaxAttempts = 0 }, "USERS_MAX_ATTEMPTS"},
		{"bad events driver", func(c *Config) { c.Events.Driver = "kafka" }, "EVENTS_DRIVER"},
		{"bad log level", func(c *Config) { c.Observability.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"postgres without host", func(c *Config) {
			c.Database.URL = ""
			c.Database.Host = ""
		}, "DATABASE_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.HTTP.Port = -1
	cfg.Store.Driver = "x"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT")
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}
