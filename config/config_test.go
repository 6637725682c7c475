package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Nil(t, cfg)

	// No explicit path: defaults apply even without a config file.
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.DefaultInterval)
	assert.Equal(t, 3, cfg.Notify.MaxAttempts)
	assert.Equal(t, 1024, cfg.Audit.QueueSize)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "./data/guardian.db", cfg.DataPaths.SQLitePath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_paths:
  data_dir: /var/lib/guardian
api:
  port: 9090
scheduler:
  default_interval: 30s
  workers: 8
redis:
  enabled: true
  addr: redis:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.DefaultInterval)
	assert.Equal(t, 8, cfg.Scheduler.Workers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "/var/lib/guardian/guardian.db", cfg.DataPaths.SQLitePath)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  port: 99999
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GUARDIAN_API_PORT", "7777")
	t.Setenv("GUARDIAN_SQLITE_PATH", "/tmp/override.db")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.API.Port)
	assert.Equal(t, "/tmp/override.db", cfg.DataPaths.SQLitePath)
}
