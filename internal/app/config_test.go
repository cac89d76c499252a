package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("LOCK_STRATEGY", "ADVISORY")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "postgres", cfg.DB.Driver)
	require.Equal(t, "advisory", cfg.LockStrategy)
	require.Equal(t, 5, cfg.Retry.MaxAttempts)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, "collection", cfg.Redis.Channel)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
jwt_secret_key: from-file
db:
  driver: sqlite
  sqlite_path: /tmp/cb.db
  lock_timeout: 2s
retry:
  max_attempts: 4
  initial_interval: 10ms
gate_cache_ttl: 1m
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTPAddr, "env wins over file")
	require.Equal(t, "sqlite", cfg.DB.Driver)
	require.Equal(t, "/tmp/cb.db", cfg.DB.SQLitePath)
	require.Equal(t, 2*time.Second, cfg.DB.LockTimeout)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
	require.Equal(t, 10*time.Millisecond, cfg.Retry.InitialInterval)
	require.Equal(t, time.Minute, cfg.GateCacheTTL)
	require.Equal(t, "from-file", cfg.JWTSecretKey)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET_KEY", "x")
	t.Setenv("DB_DRIVER", "mysql")
	_, err := LoadConfig(nil)
	require.Error(t, err)

	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("LOCK_STRATEGY", "optimistic")
	_, err = LoadConfig(nil)
	require.Error(t, err)

	t.Setenv("LOCK_STRATEGY", "row")
	t.Setenv("JWT_SECRET_KEY", "")
	_, err = LoadConfig(nil)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig(nil)
	require.Error(t, err)
}
