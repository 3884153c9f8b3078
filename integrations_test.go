package lazycache_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmike/lazycache"
)

func TestSlogHooksThroughCache(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := newCache(t, lazycache.WithHooks(lazycache.SlogHooks(logger)))

	_, err := lazycache.GetOrAdd(c, userKey{"acme", 1}, func() (int, error) { return 1, nil }, lazycache.Absolute(time.Minute))
	require.NoError(t, err)
	_, err = lazycache.GetOrAdd(c, "flaky", func() (int, error) { return 0, errors.New("db down") }, lazycache.Absolute(time.Minute))
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "lazycache: miss")
	assert.Contains(t, out, "key=k:userKey::acme:1")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "db down")
}

func TestMetricsThroughCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := lazycache.NewMetrics(reg, "users")
	require.NoError(t, err)

	var removed int
	counting := &lazycache.Hooks{OnRemove: func(any) error { removed++; return nil }}
	c := newCache(t, lazycache.WithHooks(lazycache.ChainHooks(m.Hooks(), counting)))

	load := func() (string, error) { return "ada", nil }
	for i := 0; i < 3; i++ {
		_, err := lazycache.GetOrAdd(c, userKey{"acme", 1}, load, lazycache.Absolute(time.Minute))
		require.NoError(t, err)
	}
	require.NoError(t, c.Remove(userKey{"acme", 1}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Removals))
	assert.Equal(t, 1, removed)
}

const cacheConfig = `{
  "enabled": true,
  "capacity": 2,
  "cleanupInterval": "1m",
  "policies": {
    "users": {"kind": "absolute", "ttl": "10m"}
  }
}`

func writeCacheConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestConfigDrivesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazycache.json")
	writeCacheConfig(t, path, cacheConfig)

	cfg, err := lazycache.LoadConfig(path)
	require.NoError(t, err)
	src := lazycache.NewConfigSource(cfg)
	c := newCache(t, lazycache.WithConfig(cfg))
	users := src.Policy("users")

	calls := 0
	load := func() (int, error) { calls++; return calls, nil }
	for id := 1; id <= 3; id++ {
		_, err := lazycache.GetOrAdd(c, userKey{"acme", id}, load, users)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len(), "capacity comes from the config file")

	// the kill switch bypasses the cache from the next call on
	off := *cfg
	off.Enabled = false
	src.Store(&off)
	before := calls
	_, err = lazycache.GetOrAdd(c, userKey{"acme", 3}, load, users)
	require.NoError(t, err)
	assert.Equal(t, before+1, calls)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := lazycache.LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, lazycache.DefaultConfig(), cfg)
	assert.Equal(t, lazycache.ConfigDuration(time.Minute), cfg.CleanupInterval)
}

func TestWatchConfigReloadsPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazycache.json")
	writeCacheConfig(t, path, cacheConfig)
	cfg, err := lazycache.LoadConfig(path)
	require.NoError(t, err)
	src := lazycache.NewConfigSource(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	applied, err := lazycache.WatchConfig(ctx, path, src, nil)
	require.NoError(t, err)

	writeCacheConfig(t, path, `{"enabled": true, "policies": {"users": {"kind": "sliding", "ttl": "30s"}}}`)

	select {
	case got := <-applied:
		assert.Equal(t, lazycache.PolicyConfig{Kind: "sliding", TTL: lazycache.ConfigDuration(30 * time.Second)}, got.Policies["users"])
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.Equal(t, lazycache.Sliding(30*time.Second), src.Policy("users").Policy())

	cancel()
	for range applied {
	}
}
