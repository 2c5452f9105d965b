package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"trail-svr/internal/observability"
	"trail-svr/internal/pipeline"
)

// ErrNotFound is returned by a Backend when the key holds nothing.
var ErrNotFound = errors.New("store: not found")

// Backend is a byte-oriented key/value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const keyPrefix = "trail:cache:"

// cachedPoint is the persisted layout: the cleaned {lat, lon, ts} triple.
type cachedPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	TS  int64   `json:"ts"`
}

// Cache is the best-effort per-device trajectory fallback. None of its
// methods report errors: backend failures are logged and counted only.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

func NewCache(b Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: b, logger: logger.With("component", "cache")}
}

func cacheKey(deviceID string) string {
	return keyPrefix + deviceID
}

// Save replaces the snapshot stored for deviceID.
func (c *Cache) Save(ctx context.Context, deviceID string, t pipeline.Trajectory) {
	if c == nil || c.backend == nil {
		return
	}
	pts := make([]cachedPoint, len(t))
	for i, f := range t {
		pts[i] = cachedPoint{Lat: f.Lat, Lon: f.Lon, TS: f.TS}
	}
	b, err := json.Marshal(pts)
	if err != nil {
		c.fail("save", deviceID, err)
		return
	}
	if err := c.backend.Set(ctx, cacheKey(deviceID), b); err != nil {
		c.fail("save", deviceID, err)
	}
}

// Load returns the stored snapshot, or an empty trajectory when nothing
// usable is stored.
func (c *Cache) Load(ctx context.Context, deviceID string) pipeline.Trajectory {
	out := pipeline.Trajectory{}
	if c == nil || c.backend == nil {
		return out
	}
	b, err := c.backend.Get(ctx, cacheKey(deviceID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.fail("load", deviceID, err)
		}
		return out
	}
	var pts []cachedPoint
	if err := json.Unmarshal(b, &pts); err != nil {
		c.fail("decode", deviceID, err)
		return out
	}
	for _, p := range pts {
		out = append(out, pipeline.Fix{DeviceID: deviceID, Lat: p.Lat, Lon: p.Lon, TS: p.TS})
	}
	return out
}

// Clear removes the snapshot for deviceID.
func (c *Cache) Clear(ctx context.Context, deviceID string) {
	if c == nil || c.backend == nil {
		return
	}
	if err := c.backend.Delete(ctx, cacheKey(deviceID)); err != nil && !errors.Is(err, ErrNotFound) {
		c.fail("clear", deviceID, err)
	}
}

func (c *Cache) fail(op, deviceID string, err error) {
	observability.CacheErrors.WithLabelValues(op).Inc()
	c.logger.Warn("cache operation failed", "op", op, "device", deviceID, "err", err)
}
