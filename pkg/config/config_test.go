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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/burrow", cfg.Node.DataDir)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "127.0.0.1:7000", cfg.Raft.BindAddr)
	assert.True(t, cfg.Raft.Bootstrap)
	assert.False(t, cfg.DNS.Enabled)
	assert.Equal(t, "burrow", cfg.DNS.Domain)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.HeartbeatTimeout)
	assert.Equal(t, 15*time.Second, cfg.Scrape.Interval)
	assert.Equal(t, 3, cfg.Scrape.DownAfter)
	assert.Equal(t, 360*time.Hour, cfg.TSDB.Retention)
	assert.Equal(t, 1_000_000, cfg.TSDB.MaxSamples)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	content := `
node:
  id: node-a
  data_dir: /tmp/burrow-test
api:
  listen_addr: ":9090"
scheduler:
  interval: 2s
dns:
  enabled: true
  upstream:
    - "1.1.1.1:53"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.Node.ID)
	assert.Equal(t, "/tmp/burrow-test", cfg.Node.DataDir)
	assert.Equal(t, ":9090", cfg.API.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.Interval)
	assert.True(t, cfg.DNS.Enabled)
	assert.Equal(t, []string{"1.1.1.1:53"}, cfg.DNS.Upstream)

	// Values the file does not set keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Scheduler.HeartbeatTimeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("BURROW_API_LISTEN_ADDR", ":7777")
	t.Setenv("BURROW_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.API.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}
