package services

import (
	"container/list"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"content-regions/models"
)

var ErrCacheMiss = stderrors.New("cache miss")

// CacheService caches region listings and renders between reflows.
type CacheService interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern drops pattern itself, or every key sharing its prefix
	// when it ends in *.
	DeletePattern(ctx context.Context, pattern string) error
	Clear(ctx context.Context) error
	GetStats() CacheStats
}

type CacheStats struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	HitRate       float64   `json:"hit_rate"`
	Size          int       `json:"size"`
	MaxSize       int       `json:"max_size"`
	Evictions     int64     `json:"evictions"`
	Invalidations int64     `json:"invalidations"`
	LastCleared   time.Time `json:"last_cleared"`
}

func ListingCacheKey(parent models.ParentRef, template string) string {
	return ParentCachePrefix(parent) + "listing:" + template
}

func RenderCacheKey(parent models.ParentRef, region, template string) string {
	return ParentCachePrefix(parent) + "render:" + region + ":" + template
}

// ParentCachePrefix starts every key derived from parent, so a reflow can
// drop them all with ParentCachePrefix(parent)+"*".
func ParentCachePrefix(parent models.ParentRef) string {
	return "parent:" + parent.Key() + ":"
}

// ParentGenerations counts invalidations per parent. Readers fold the count
// into their cache keys, so a listing built from rows read before an
// invalidation is stored under a key no later read asks for.
type ParentGenerations struct {
	mu     sync.Mutex
	counts map[string]uint64
}

func NewParentGenerations() *ParentGenerations {
	return &ParentGenerations{counts: make(map[string]uint64)}
}

// Current is 0 for a parent never invalidated, and always 0 on a nil receiver.
func (g *ParentGenerations) Current(parent models.ParentRef) uint64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[parent.Key()]
}

func (g *ParentGenerations) Advance(parent models.ParentRef) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[parent.Key()]++
}

// Key suffixes key with the parent's current generation.
func (g *ParentGenerations) Key(parent models.ParentRef, key string) string {
	return key + "@" + strconv.FormatUint(g.Current(parent), 10)
}

type lruEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// InMemoryCache is a size bounded LRU. Values are kept as JSON so callers
// never share mutable state with the cache.
type InMemoryCache struct {
	mu      sync.Mutex
	order   *list.List // front is most recently used
	items   map[string]*list.Element
	maxSize int
	stats   CacheStats

	stop     chan struct{}
	stopOnce sync.Once
}

// NewInMemoryCache starts a janitor that sweeps expired entries every
// cleanupInterval until Stop.
func NewInMemoryCache(maxSize int, cleanupInterval time.Duration) *InMemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	c := &InMemoryCache{
		order:   list.New(),
		items:   make(map[string]*list.Element, maxSize),
		maxSize: maxSize,
		stats:   CacheStats{MaxSize: maxSize, LastCleared: time.Now()},
		stop:    make(chan struct{}),
	}
	go c.janitor(cleanupInterval)
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	value, ok := c.lookup(key, time.Now())
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	c.stats.HitRate = float64(c.stats.Hits) / float64(c.stats.Hits+c.stats.Misses)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrCacheMiss, key)
	}
	return json.Unmarshal(value, dest)
}

// lookup returns a live entry and marks it used. Caller holds the lock.
func (c *InMemoryCache) lookup(key string, now time.Time) ([]byte, bool) {
	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*lruEntry)
	if now.After(entry.expires) {
		c.remove(elem)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize cache value: %w", err)
	}
	expires := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value, entry.expires = data, expires
		c.order.MoveToFront(elem)
		return nil
	}

	if c.order.Len() >= c.maxSize {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, value: data, expires: expires})
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
		c.stats.Invalidations++
	}
	return nil
}

func (c *InMemoryCache) DeletePattern(ctx context.Context, pattern string) error {
	prefix, wildcard := strings.CutSuffix(pattern, "*")

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if key == pattern || (wildcard && strings.HasPrefix(key, prefix)) {
			c.remove(elem)
			c.stats.Invalidations++
		}
	}
	return nil
}

func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	clear(c.items)
	c.stats.LastCleared = time.Now()
	return nil
}

func (c *InMemoryCache) GetStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = len(c.items)
	return stats
}

// Stop ends the janitor. It may be called more than once.
func (c *InMemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *InMemoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			c.sweep(now)
		case <-c.stop:
			return
		}
	}
}

func (c *InMemoryCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*lruEntry).expires) {
			c.remove(elem)
		}
		elem = prev
	}
}

func (c *InMemoryCache) remove(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}

// NoopCache stands in when caching is disabled.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, key string, dest interface{}) error {
	return fmt.Errorf("%w: %s", ErrCacheMiss, key)
}
func (NoopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }
func (NoopCache) Delete(context.Context, string) error                          { return nil }
func (NoopCache) DeletePattern(context.Context, string) error                   { return nil }
func (NoopCache) Clear(context.Context) error                                   { return nil }
func (NoopCache) GetStats() CacheStats                                          { return CacheStats{} }
