package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketprism/storage-engine/pkg/types"
)

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "MARKET_DATA", cfg.Bus.StreamName)
	assert.Equal(t, 16, cfg.Pool.MaxHandles)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("hot_store:\n  addr: http://hot.internal:8123\npool:\n  max_handles: 32\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://hot.internal:8123", cfg.HotStore.Addr)
	assert.Equal(t, 32, cfg.Pool.MaxHandles)
	// Unset fields keep their defaults.
	assert.Equal(t, "MARKET_DATA", cfg.Bus.StreamName)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv("MARKETPRISM_HOT_STORE_ADDR", "http://env-hot:8123")
	t.Setenv("MARKETPRISM_POOL_MAX_HANDLES", "8")
	t.Setenv("MARKETPRISM_BUS_URLS", "nats://a:4222,nats://b:4222")

	cfg := Default()
	ApplyEnv(&cfg)

	assert.Equal(t, "http://env-hot:8123", cfg.HotStore.Addr)
	assert.Equal(t, 8, cfg.Pool.MaxHandles)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.Bus.URLs)
}

func TestCleanupRetainDefaultsCoverCoreTypes(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.Cleanup.RetainFor, types.DataTypeTrade)
	assert.Contains(t, cfg.Cleanup.RetainFor, types.DataTypeOrderbook)
}
