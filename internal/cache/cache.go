// Package cache stores synthesized previews by URL with a TTL and a bounded
// number of entries. Eviction removes the oldest writes first.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/lobisloby/Link-Preview-AI/internal/preview"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 24 * time.Hour
)

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Options struct {
	Capacity int
	TTL      time.Duration
	// BatchEviction evicts the oldest tenth of the cache at once instead of a
	// single entry.
	BatchEviction bool
}

// Cache never returns errors: read failures are misses and write failures
// are logged.
type Cache struct {
	repo     *Repository
	clock    Clock
	capacity int
	ttl      time.Duration
	batch    bool

	// mu serializes writers so the count-then-evict step sees a stable size.
	mu sync.Mutex

	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
}

// New creates a Cache over db.
func New(db *sql.DB, opts Options) *Cache {
	c := &Cache{
		repo:     NewRepository(db),
		clock:    realClock{},
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		batch:    opts.BatchEviction,
	}
	if c.capacity <= 0 {
		c.capacity = DefaultCapacity
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}

	meter := otel.Meter("github.com/lobisloby/Link-Preview-AI/internal/cache")
	c.hits, _ = meter.Int64Counter("linkpreview.cache.hits", metric.WithDescription("Preview cache hits"))
	c.misses, _ = meter.Int64Counter("linkpreview.cache.misses", metric.WithDescription("Preview cache misses"))
	c.evictions, _ = meter.Int64Counter("linkpreview.cache.evictions", metric.WithDescription("Preview cache evictions"))
	return c
}

// SetClock replaces the clock. Intended for tests.
func (c *Cache) SetClock(clock Clock) {
	c.clock = clock
}

// TTL is the default lifetime of a written entry.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached preview for url, or nil. An expired entry is
// deleted as it is read.
func (c *Cache) Get(ctx context.Context, url string) *preview.LinkPreview {
	e, err := c.repo.get(ctx, url)
	if err != nil {
		slog.Warn("cache read failed", "url", url, "error", err)
		c.miss(ctx)
		return nil
	}
	if e == nil {
		c.miss(ctx)
		return nil
	}

	now := c.clock.Now().UnixMilli()
	if e.ExpiresAt < now {
		if err := c.repo.deleteIfExpired(ctx, url, now); err != nil {
			slog.Warn("cache delete expired failed", "url", url, "error", err)
		}
		c.miss(ctx)
		return nil
	}

	var p preview.LinkPreview
	if err := json.Unmarshal([]byte(e.Data), &p); err != nil {
		slog.Warn("cache entry undecodable", "url", url, "error", err)
		c.miss(ctx)
		return nil
	}
	p.Normalize()

	c.count(ctx, c.hits, 1)
	return &p
}

// Set stores p under url until now+ttl. A ttl of zero or less expires the
// entry at write time, so any read after that instant misses. Use TTL for
// the default lifetime.
func (c *Cache) Set(ctx context.Context, url string, p preview.LinkPreview, ttl time.Duration) {
	data, err := json.Marshal(p)
	if err != nil {
		slog.Warn("cache encode failed", "url", url, "error", err)
		return
	}

	now := c.clock.Now()
	e := entry{
		URL:       url,
		Data:      string(data),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}

	c.mu.Lock()
	evicted, err := c.repo.put(ctx, e, c.capacity, c.batch)
	c.mu.Unlock()
	if err != nil {
		slog.Warn("cache write failed", "url", url, "error", err)
		return
	}
	if evicted > 0 {
		slog.Debug("cache evicted entries", "count", evicted)
		c.count(ctx, c.evictions, evicted)
	}
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.clear(ctx)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len(ctx context.Context) (int, error) {
	return c.repo.count(ctx)
}

// CleanExpired removes all expired entries and returns how many were removed.
func (c *Cache) CleanExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.cleanExpired(ctx, c.clock.Now())
}

func (c *Cache) miss(ctx context.Context) {
	c.count(ctx, c.misses, 1)
}

func (c *Cache) count(ctx context.Context, counter metric.Int64Counter, n int64) {
	if counter != nil {
		counter.Add(ctx, n)
	}
}
