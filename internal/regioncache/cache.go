// Package regioncache memoizes radius-query results for a moving map
// viewport. It coalesces bursts of viewport-change events behind a debounce
// window, deduplicates in-flight fetches per key, and serves repeat visits to
// the same quantized viewport from cache.
package regioncache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/vigil-app/vigil/internal/geo"
	"github.com/vigil-app/vigil/internal/report"
)

// Defaults for cache behavior.
const (
	// DefaultDebounce is the quiescence window after the last viewport event
	// before a query fires.
	DefaultDebounce = 1000 * time.Millisecond

	// DefaultRefreshInterval is the minimum wall-clock spacing between
	// forced refreshes.
	DefaultRefreshInterval = 30 * time.Second

	// DefaultCapacity is the number of region entries kept before recency
	// eviction.
	DefaultCapacity = 32
)

// ErrRefreshTooSoon is returned when Refresh is called again before the
// refresh interval has elapsed.
var ErrRefreshTooSoon = errors.New("refresh rate limited")

// Querier is the report store query contract the cache depends on. The
// server-side store and the HTTP client both satisfy it.
type Querier interface {
	QueryRadius(ctx context.Context, center geo.Point, radiusKm float64) ([]*report.Report, error)
}

// Key identifies a cached region: the viewport center quantized to fixed
// precision plus the radius. Quantization absorbs sub-precision jitter so a
// return to nearly the same viewport is a cache hit.
type Key struct {
	Center   geo.Point
	RadiusKm float64
}

// String renders the key for singleflight grouping, longitude first.
func (k Key) String() string {
	return fmt.Sprintf("%.4f,%.4f,%g", k.Center.Longitude, k.Center.Latitude, k.RadiusKm)
}

// KeyFor builds the cache key for a raw viewport center and radius.
func KeyFor(center geo.Point, radiusKm float64) Key {
	return Key{Center: geo.Quantize(center, geo.QuantizeDecimals), RadiusKm: radiusKm}
}

// Entry is one memoized region result.
type Entry struct {
	Key       Key
	Reports   []*report.Report
	FetchedAt time.Time
}

// ResultFunc receives the outcome of each fired query, cached or fetched.
// Called outside the cache lock. Results for superseded keys are never
// delivered.
type ResultFunc func(key Key, reports []*report.Report, err error)

// Cache is the client-side region cache. All timer state lives in one
// mutex-guarded structure so cancel-and-reschedule of the debounce timer is a
// single visible operation; no two timers for the same pending query can
// coexist.
type Cache struct {
	querier  Querier
	onResult ResultFunc
	clock    clock.Clock

	debounce        time.Duration
	refreshInterval time.Duration
	capacity        int

	mu          sync.Mutex
	entries     map[Key]*Entry
	order       []Key // recency order, oldest first
	pendingKey  *Key
	pendingGen  uint64 // bumped per event; stale timer fires carry an older value
	timer       *clock.Timer
	currentKey  *Key // the last key that fired; late results for others are discarded
	lastRefresh time.Time

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock substitutes the wall clock. Test hook.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(cache *Cache) { cache.debounce = d }
}

// WithRefreshInterval overrides the minimum spacing between forced refreshes.
func WithRefreshInterval(d time.Duration) Option {
	return func(cache *Cache) { cache.refreshInterval = d }
}

// WithCapacity overrides the number of entries kept.
func WithCapacity(n int) Option {
	return func(cache *Cache) { cache.capacity = n }
}

// New creates a Cache that answers via querier and reports outcomes through
// onResult.
func New(querier Querier, onResult ResultFunc, opts ...Option) *Cache {
	c := &Cache{
		querier:         querier,
		onResult:        onResult,
		clock:           clock.New(),
		debounce:        DefaultDebounce,
		refreshInterval: DefaultRefreshInterval,
		capacity:        DefaultCapacity,
		entries:         make(map[Key]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ViewportChanged records a viewport-change event. Events may arrive at
// arbitrary frequency; each one atomically cancels and reschedules the single
// debounce timer and supersedes the pending parameters, so exactly one query
// fires per quiescence window, with the parameters of the last event.
func (c *Cache) ViewportChanged(ctx context.Context, center geo.Point, radiusKm float64) {
	key := KeyFor(center, radiusKm)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pendingKey = &key
	c.pendingGen++
	gen := c.pendingGen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(c.debounce, func() {
		c.fire(ctx, gen)
	})
}

// fire runs when the debounce window closes with no further events. Each
// scheduled fire carries the generation of the event that armed it: a timer
// that already went off when a newer event called Stop still reaches here,
// and must not consume that newer event's pending key before its own window
// has elapsed.
func (c *Cache) fire(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.pendingKey == nil || gen != c.pendingGen {
		c.mu.Unlock()
		return
	}
	key := *c.pendingKey
	c.pendingKey = nil
	c.timer = nil
	c.currentKey = &key

	// Cache hit short-circuits the network entirely.
	if entry, ok := c.entries[key]; ok {
		c.touchLocked(key)
		reports := entry.Reports
		c.mu.Unlock()
		if c.onResult != nil {
			c.onResult(key, reports, nil)
		}
		return
	}
	c.mu.Unlock()

	c.fetch(ctx, key)
}

// fetch issues the radius query for key, deduplicated so at most one request
// per key is ever in flight. The result is delivered only if key is still the
// current one; late results for superseded keys are cached but not shown.
func (c *Cache) fetch(ctx context.Context, key Key) {
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		return c.querier.QueryRadius(ctx, key.Center, key.RadiusKm)
	})

	var reports []*report.Report
	if v != nil {
		reports = v.([]*report.Report)
	}

	c.mu.Lock()
	if err == nil {
		c.storeLocked(key, reports)
	}
	superseded := c.currentKey == nil || *c.currentKey != key
	c.mu.Unlock()

	if superseded {
		return
	}
	if c.onResult != nil {
		c.onResult(key, reports, err)
	}
}

// Refresh forces a re-fetch of the current region, bypassing the cache. It is
// the only path that re-queries an already-cached key, and is rate-limited to
// once per refresh interval of wall-clock time.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.currentKey == nil {
		c.mu.Unlock()
		return nil
	}
	now := c.clock.Now()
	if !c.lastRefresh.IsZero() && now.Sub(c.lastRefresh) < c.refreshInterval {
		c.mu.Unlock()
		return ErrRefreshTooSoon
	}
	c.lastRefresh = now
	key := *c.currentKey
	c.evictLocked(key)
	c.mu.Unlock()

	c.fetch(ctx, key)
	return nil
}

// Get returns the cached entry for a viewport, if present. Read-only; does
// not touch recency.
func (c *Cache) Get(center geo.Point, radiusKm float64) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[KeyFor(center, radiusKm)]
	return entry, ok
}

// Len returns the number of cached regions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// storeLocked inserts an entry and evicts the least recently used region
// beyond capacity. Caller holds c.mu.
func (c *Cache) storeLocked(key Key, reports []*report.Report) {
	if _, ok := c.entries[key]; ok {
		c.touchLocked(key)
	} else {
		c.order = append(c.order, key)
	}
	c.entries[key] = &Entry{Key: key, Reports: reports, FetchedAt: c.clock.Now()}

	for len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// touchLocked moves key to the most recent position. Caller holds c.mu.
func (c *Cache) touchLocked(key Key) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}

// evictLocked removes key from the cache. Caller holds c.mu.
func (c *Cache) evictLocked(key Key) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
