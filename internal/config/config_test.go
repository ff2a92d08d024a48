package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	// Node defaults
	assert.Equal(t, "", cfg.Node.Pool)
	assert.True(t, cfg.Node.TaskLimitUnlimited)
	assert.Equal(t, "tasknode-", cfg.Node.IdentPrefix)
	assert.Equal(t, "spawn", cfg.Node.MultiprocessingContext)
	assert.False(t, cfg.Node.KillOnStop)
	assert.Equal(t, 1*time.Hour, cfg.Node.TaskRetentionPeriod)
	assert.Equal(t, 30*time.Second, cfg.Node.HousekeepingInterval)
	assert.Equal(t, 5*time.Second, cfg.Node.StartMaxWait)
	assert.Equal(t, "files", cfg.Node.ResultTransport)

	// Bus defaults
	assert.Equal(t, "localhost:6379", cfg.Bus.Addr)
	assert.Equal(t, "", cfg.Bus.Password)
	assert.Equal(t, 0, cfg.Bus.DB)
	assert.Equal(t, 100, cfg.Bus.PoolSize)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)

	// Metrics defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	// Auth defaults
	assert.False(t, cfg.Auth.Enabled)

	// Logging defaults
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
node:
  pool: "p"
  tasklimitunlimited: false
  tasklimit: 4
  resulttransport: "memory"

bus:
  addr: "custom-redis:6380"
  password: "secret"
  db: 1

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "p", cfg.Node.Pool)
	assert.False(t, cfg.Node.TaskLimitUnlimited)
	assert.Equal(t, 4, cfg.Node.TaskLimit)
	assert.Equal(t, "memory", cfg.Node.ResultTransport)
	assert.Equal(t, "custom-redis:6380", cfg.Bus.Addr)
	assert.Equal(t, "secret", cfg.Bus.Password)
	assert.Equal(t, 1, cfg.Bus.DB)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestServerConfig_Fields(t *testing.T) {
	cfg := ServerConfig{
		Host:         "localhost",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8090, cfg.Port)
}

func TestBusConfig_Fields(t *testing.T) {
	cfg := BusConfig{
		Addr:         "redis:6379",
		Password:     "pass",
		DB:           1,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   5,
	}

	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, "pass", cfg.Password)
	assert.Equal(t, 1, cfg.DB)
}

func TestNodeConfig_Fields(t *testing.T) {
	limit := 4
	cfg := NodeConfig{
		Pool:        "p",
		TaskLimit:   limit,
		IdentPrefix: "n-",
	}

	assert.Equal(t, "p", cfg.Pool)
	assert.Equal(t, limit, cfg.TaskLimit)
	assert.Equal(t, "n-", cfg.IdentPrefix)
}
