package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chomosuke9/Bubblekit/config"
)

func TestDefault_MatchesSpecMandatedTimeouts(t *testing.T) {
	t.Parallel()
	d := config.Default()
	assert.Equal(t, 30*time.Second, d.Timeouts.FirstEvent)
	assert.Equal(t, 60*time.Second, d.Timeouts.Idle)
	assert.Equal(t, 15*time.Second, d.Timeouts.Heartbeat)
	assert.Equal(t, 256, d.SinkBufferSize)
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	yamlContent := `
listen_addr: ":9090"
sink_buffer_size: 512
timeouts:
  first_event: 45s
  idle: 90s
  heartbeat: 20s
redis:
  addr: "localhost:6379"
  prefix: "myapp"
logging:
  default_level: "debug"
  format: "json"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 512, cfg.SinkBufferSize)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.FirstEvent)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Logging.DefaultLevel)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/path/server.yaml")
	assert.Error(t, err)
}
