package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, uint64(10), cfg.Store.MinPoolSize)
	assert.Equal(t, uint64(100), cfg.Store.MaxPoolSize)
	assert.Equal(t, 600, cfg.Cache.TTLSeconds)
	assert.Equal(t, 30*time.Second, cfg.Ledger.InvokeTimeout)
	assert.Equal(t, 10*time.Second, cfg.Ledger.QueryTimeout)
	assert.Equal(t, 5*time.Second, cfg.WAL.CheckInterval)
	assert.Equal(t, 100, cfg.Batching.AutoBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Batching.AutoBatchInterval)
	assert.Equal(t, 5, cfg.Batching.WorkerCount)
	assert.Equal(t, 100, cfg.Batching.MaxQueueDepth)
	assert.False(t, cfg.Ledger.SyncEnabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
server:
  port: 8080
store:
  url: mongodb://db:27017
batching:
  auto_batch_size: 50
  auto_batch_interval: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mongodb://db:27017", cfg.Store.URL)
	assert.Equal(t, 50, cfg.Batching.AutoBatchSize)
	assert.Equal(t, 10*time.Second, cfg.Batching.AutoBatchInterval)

	// untouched sections keep defaults
	assert.Equal(t, "logs", cfg.Store.Collection)
	assert.Equal(t, 5, cfg.Batching.WorkerCount)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEDGERLOG_SERVER_PORT", "9001")
	t.Setenv("LEDGERLOG_STORE_URL", "mongodb://env:27017")
	t.Setenv("LEDGERLOG_WAL_CHECK_INTERVAL", "2s")
	t.Setenv("LEDGERLOG_BATCHING_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "mongodb://env:27017", cfg.Store.URL)
	assert.Equal(t, 2*time.Second, cfg.WAL.CheckInterval)
	assert.False(t, cfg.Batching.Enabled)
}

func TestEnvOverridesIgnoreMalformed(t *testing.T) {
	t.Setenv("LEDGERLOG_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5001, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "bad port",
			mutate: func(c *Config) { c.Server.Port = 0 },
			errMsg: "server.port",
		},
		{
			name:   "missing store url",
			mutate: func(c *Config) { c.Store.URL = "" },
			errMsg: "store.url",
		},
		{
			name:   "pool size inversion",
			mutate: func(c *Config) { c.Store.MinPoolSize = 200 },
			errMsg: "min_pool_size",
		},
		{
			name:   "wal enabled without directory",
			mutate: func(c *Config) { c.WAL.Directory = "" },
			errMsg: "wal.directory",
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.Batching.AutoBatchSize = 0 },
			errMsg: "auto_batch_size",
		},
		{
			name: "ledger enabled without channel",
			mutate: func(c *Config) {
				c.Ledger.SyncEnabled = true
				c.Ledger.Channel = ""
			},
			errMsg: "ledger.channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
