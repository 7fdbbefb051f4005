package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "localqueue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Log.Console)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "localqueue.db", cfg.Store.SQLitePath)
	assert.Equal(t, "localqueue:", cfg.Store.RedisPrefix)
	assert.Equal(t, 1, cfg.Worker.Count)
	assert.False(t, cfg.Worker.EnableShell)
	assert.Empty(t, cfg.Schedules)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9090"
store:
  driver: redis
  redis_addr: "redis:6379"
  redis_db: 2
worker:
  count: 8
  enable_shell: true
schedules:
  - name: nightly-report
    cron: "0 2 * * *"
    task_type: data_processing
    parameters:
      rows: 1000
  - name: digest
    cron: "@hourly"
    task_type: email_simulation
    enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.RedisAddr)
	assert.Equal(t, 2, cfg.Store.RedisDB)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.True(t, cfg.Worker.EnableShell)

	schedules := cfg.DomainSchedules()
	require.Len(t, schedules, 2)
	assert.Equal(t, "nightly-report", schedules[0].Name)
	assert.Equal(t, "0 2 * * *", schedules[0].CronExpr)
	assert.Equal(t, "data_processing", schedules[0].TaskType)
	assert.EqualValues(t, 1000, schedules[0].Parameters["rows"])
	assert.True(t, schedules[0].Enabled)
	assert.False(t, schedules[1].Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LOCALQUEUE_WORKER_COUNT", "3")
	t.Setenv("LOCALQUEUE_STORE_DRIVER", "memory")
	t.Setenv("LOCALQUEUE_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "worker:\n  count: 12\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Worker.Count)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown driver":    "store:\n  driver: mongo\n",
		"zero workers":      "worker:\n  count: 0\n",
		"bad log level":     "log:\n  level: loud\n",
		"empty sqlite path": "store:\n  driver: gorm\n  sqlite_path: \"\"\n",
		"schedule no cron":  "schedules:\n  - name: x\n    task_type: data_processing\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorContains(t, err, "invalid config")
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}
