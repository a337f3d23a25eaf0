package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Factory constructs a fully initialized engine. Construction is expected to
// be expensive (model loading), which is why the cache exists.
type Factory func() (Engine, error)

// Cache lazily initializes and holds the single shared engine instance.
// At most one load or reload runs at any time; concurrent callers block on
// the mutex until it finishes and then observe the fully loaded instance.
// After the TTL elapses the next Acquire replaces the instance, bounding
// memory growth from cumulative allocations in long-running workers.
type Cache struct {
	mu       sync.Mutex
	factory  Factory
	ttl      time.Duration
	log      *slog.Logger
	engine   Engine
	loadedAt time.Time
	now      func() time.Time // injectable clock for tests
}

// NewCache creates a cache around the factory with the given TTL. A TTL of
// zero disables reloading.
func NewCache(log *slog.Logger, factory Factory, ttl time.Duration) *Cache {
	return &Cache{
		factory: factory,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// Acquire returns the shared engine, loading or reloading it if needed.
// If initialization fails the cache stays empty so the next caller retries
// from scratch; no partial handle is ever cached.
func (c *Cache) Acquire(ctx context.Context) (Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch {
	case c.engine == nil:
		c.log.Info("loading OCR engine (first time)")
		if err := c.load(); err != nil {
			return nil, err
		}
	case c.ttl > 0 && c.now().Sub(c.loadedAt) > c.ttl:
		c.log.Info("reloading OCR engine (TTL expired)", "age", c.now().Sub(c.loadedAt))
		if err := c.load(); err != nil {
			// Keep the cache empty rather than serving a stale handle of
			// unknown state.
			c.engine = nil
			return nil, err
		}
	default:
		c.log.Debug("using cached OCR engine", "age", c.now().Sub(c.loadedAt))
	}
	return c.engine, nil
}

func (c *Cache) load() error {
	eng, err := c.factory()
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	c.engine = eng
	c.loadedAt = c.now()
	c.log.Info("OCR engine loaded", "engine", eng.Name())
	return nil
}

// CacheStats describes the cache state for diagnostics.
type CacheStats struct {
	Loaded     bool          `json:"loaded"`
	Engine     string        `json:"engine,omitempty"`
	AgeSeconds int           `json:"age_seconds"`
	TTLSeconds int           `json:"ttl_seconds"`
	TTL        time.Duration `json:"-"`
}

// Stats reports whether the engine is loaded and how old it is.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CacheStats{
		Loaded:     c.engine != nil,
		TTLSeconds: int(c.ttl.Seconds()),
		TTL:        c.ttl,
	}
	if c.engine != nil {
		st.Engine = c.engine.Name()
		st.AgeSeconds = int(c.now().Sub(c.loadedAt).Seconds())
	}
	return st
}
