package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trail-svr/internal/pipeline"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteCache(t *testing.T) (*Cache, *SQLiteBackend) {
	t.Helper()
	b, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return NewCache(b, quietLogger()), b
}

var sample = pipeline.Trajectory{
	{DeviceID: "dev-1", Lat: 45.07, Lon: 7.68, TS: 1700000000},
	{DeviceID: "dev-1", Lat: 45.08, Lon: 7.69, TS: 1700000030},
}

func TestCacheLoadMissing(t *testing.T) {
	c, _ := newSQLiteCache(t)
	got := c.Load(context.Background(), "never-saved")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCacheSaveLoadClear(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteCache(t)

	c.Save(ctx, "dev-1", sample)
	assert.Equal(t, sample, c.Load(ctx, "dev-1"))
	assert.Empty(t, c.Load(ctx, "dev-2"), "entries are keyed per device")

	replacement := sample[:1]
	c.Save(ctx, "dev-1", replacement)
	assert.Equal(t, replacement, c.Load(ctx, "dev-1"))

	c.Clear(ctx, "dev-1")
	assert.Empty(t, c.Load(ctx, "dev-1"))

	// clearing twice is harmless
	c.Clear(ctx, "dev-1")
}

func TestCacheDropsNonTripleFields(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteCache(t)
	speed := 12.5
	c.Save(ctx, "dev-1", pipeline.Trajectory{{DeviceID: "dev-1", Lat: 1, Lon: 2, TS: 1700000000, Speed: &speed, SOS: true}})

	got := c.Load(ctx, "dev-1")
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Speed)
	assert.False(t, got[0].SOS)
}

func TestCacheCorruptPayloads(t *testing.T) {
	ctx := context.Background()
	c, b := newSQLiteCache(t)

	for name, payload := range map[string]string{
		"garbage":    "{not json",
		"object":     `{"lat": 1, "lon": 2, "ts": 3}`,
		"string":     `"hello"`,
		"null":       `null`,
		"bad points": `[{"lat": "x"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Set(ctx, cacheKey("dev-1"), []byte(payload)))
			got := c.Load(ctx, "dev-1")
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

type brokenBackend struct{}

var errUnavailable = errors.New("storage unavailable")

func (brokenBackend) Get(context.Context, string) ([]byte, error) { return nil, errUnavailable }
func (brokenBackend) Set(context.Context, string, []byte) error   { return errUnavailable }
func (brokenBackend) Delete(context.Context, string) error        { return errUnavailable }

func TestCacheSwallowsBackendFailures(t *testing.T) {
	ctx := context.Background()
	c := NewCache(brokenBackend{}, quietLogger())

	assert.NotPanics(t, func() {
		c.Save(ctx, "dev-1", sample)
		c.Clear(ctx, "dev-1")
	})
	assert.Empty(t, c.Load(ctx, "dev-1"))
}

func TestNilCacheIsUsable(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	c.Save(ctx, "dev-1", sample)
	c.Clear(ctx, "dev-1")
	assert.Empty(t, c.Load(ctx, "dev-1"))
}

func TestSQLiteBackendNotFound(t *testing.T) {
	_, b := newSQLiteCache(t)
	_, err := b.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func newRedisCache(t *testing.T) (*Cache, *RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedis(context.Background(), mr.Addr(), 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return NewCache(b, quietLogger()), b, mr
}

func TestRedisBackend(t *testing.T) {
	ctx := context.Background()
	c, b, mr := newRedisCache(t)

	c.Save(ctx, "redis-dev", sample)
	assert.True(t, mr.Exists(cacheKey("redis-dev")))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey("redis-dev")))

	got := c.Load(ctx, "redis-dev")
	require.Len(t, got, 2)
	assert.Equal(t, "redis-dev", got[0].DeviceID)
	assert.Equal(t, sample[1].TS, got[1].TS)

	c.Clear(ctx, "redis-dev")
	_, err := b.Get(ctx, cacheKey("redis-dev"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBackendExpiry(t *testing.T) {
	ctx := context.Background()
	c, _, mr := newRedisCache(t)

	c.Save(ctx, "dev-1", sample)
	mr.FastForward(2 * time.Minute)
	assert.Empty(t, c.Load(ctx, "dev-1"))
}

func TestRedisBackendUnavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedis(ctx, addr, 0, 0)
	assert.Error(t, err)
}

func TestRedisCacheSwallowsServerErrors(t *testing.T) {
	ctx := context.Background()
	c, _, mr := newRedisCache(t)
	c.Save(ctx, "dev-1", sample)

	mr.SetError("LOADING server is restarting")
	assert.Empty(t, c.Load(ctx, "dev-1"))
	assert.NotPanics(t, func() { c.Save(ctx, "dev-1", sample) })

	mr.SetError("")
	assert.Len(t, c.Load(ctx, "dev-1"), 2)
}
