package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 10*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 12*time.Second, cfg.LatestTimeout())
	assert.Equal(t, 15*time.Second, cfg.HistoryTimeout())
	assert.Equal(t, 700*time.Millisecond, cfg.AnimationDuration())
	assert.Equal(t, 24*time.Hour, cfg.MaxFuture())
	assert.Equal(t, time.Duration(0), cfg.CacheTTL())
}

func TestLoadFileThenEnv(t *testing.T) {
	p := writeFile(t, `
transport: grpc
grpc_server: ingest:50051
cache_backend: redis
redis_addr: cache:6379
jump_km: 150
refresh_interval_ms: 5000
default_device: dev-42
`)
	t.Setenv("REDIS_ADDR", "override:6380")
	t.Setenv("MIN_YEAR", "2015")
	t.Setenv("AUTO_REFRESH", "false")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "grpc", cfg.Transport)
	assert.Equal(t, "ingest:50051", cfg.GRPCServer)
	assert.Equal(t, "override:6380", cfg.RedisAddr)
	assert.Equal(t, 150.0, cfg.JumpKm)
	assert.Equal(t, 5*time.Second, cfg.RefreshInterval())
	assert.Equal(t, 2015, cfg.MinYear)
	assert.Equal(t, "dev-42", cfg.DefaultDevice)
	assert.False(t, cfg.AutoRefresh)
	// untouched keys keep their defaults
	assert.Equal(t, 12000, cfg.LatestTimeoutMS)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unknown transport": "transport: carrier-pigeon\n",
		"bad url":           "service_url: not a url\n",
		"missing url":       "service_url: \"\"\n",
		"tiny interval":     "refresh_interval_ms: 10\n",
		"bad backend":       "cache_backend: floppy\n",
		"negative jump":     "jump_km: -1\n",
		"broken yaml":       "transport: [http\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("REFRESH_INTERVAL_MS", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "REFRESH_INTERVAL_MS")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
