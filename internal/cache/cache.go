// Package cache provides a bounded LRU cache with per-entry TTL and
// single-flight construction of missing entries.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"
)

// Events reported to an Observer.
const (
	EventHit           = "hit"
	EventMiss          = "miss"
	EventBuild         = "build"
	EventBuildError    = "build_error"
	EventEvictExpired  = "evict_expired"
	EventEvictCapacity = "evict_capacity"
)

// Observer receives cache events, typically to feed metrics.
type Observer interface {
	CacheEvent(event string)
}

// Config controls a cache's bounds.
type Config struct {
	Name string
	// Size caps the number of entries. Zero or less means unbounded.
	Size int
	// TTL is the lifetime of an entry from insertion. Zero disables expiry.
	TTL      time.Duration
	Observer Observer
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Name      string  `json:"name"`
	Entries   int     `json:"entries"`
	Capacity  int     `json:"capacity"`
	TTLSecs   float64 `json:"ttl_secs"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Builds    uint64  `json:"builds"`
	Evictions uint64  `json:"evictions"`
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
}

// Cache is safe for concurrent use. Values handed out stay valid after
// their entry is evicted; eviction only drops the cache's reference.
type Cache[V any] struct {
	cfg   Config
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	group singleflight.Group

	hits, misses, builds, evictions uint64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New returns an empty cache.
func New[V any](cfg Config) *Cache[V] {
	return &Cache[V]{
		cfg:     cfg,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
		nowFunc: time.Now,
	}
}

// Get returns the live entry for key. Expired entries are removed on access.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	v, ok, expired := c.lookup(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if expired {
		c.notify(EventEvictExpired)
	}
	if ok {
		c.notify(EventHit)
	} else {
		c.notify(EventMiss)
	}
	return v, ok
}

// lookup must be called with mu held. expired reports that a stale entry
// was dropped.
func (c *Cache[V]) lookup(key string) (v V, ok, expired bool) {
	el, found := c.items[key]
	if !found {
		return v, false, false
	}
	ent := el.Value.(*entry[V])
	if c.expired(ent) {
		c.removeElement(el)
		c.evictions++
		return v, false, true
	}
	c.ll.MoveToFront(el)
	return ent.value, true, false
}

// Put inserts or replaces the entry for key, evicting the least recently
// used entry when the cache is full.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	evicted := c.put(key, value)
	c.mu.Unlock()

	for i := 0; i < evicted; i++ {
		c.notify(EventEvictCapacity)
	}
}

func (c *Cache[V]) put(key string, value V) (evicted int) {
	var expires time.Time
	if c.cfg.TTL > 0 {
		expires = c.nowFunc().Add(c.cfg.TTL)
	}

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[V])
		ent.value, ent.expires = value, expires
		c.ll.MoveToFront(el)
		return 0
	}

	c.items[key] = c.ll.PushFront(&entry[V]{key: key, value: value, expires: expires})
	for c.cfg.Size > 0 && c.ll.Len() > c.cfg.Size {
		c.removeElement(c.ll.Back())
		c.evictions++
		evicted++
	}
	return evicted
}

// GetOrLoad returns the cached value for key or builds it with load.
// Concurrent callers for the same missing key share one call to load.
// The build runs detached from ctx so one caller giving up does not fail
// the others; ctx only bounds how long this caller waits.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	var zero V
	ch := c.group.DoChan(key, func() (any, error) {
		// Another build may have completed between Get and DoChan.
		c.mu.Lock()
		v, ok, _ := c.lookup(key)
		c.mu.Unlock()
		if ok {
			return v, nil
		}

		v, err := load(context.WithoutCancel(ctx))
		if err != nil {
			c.notify(EventBuildError)
			return nil, err
		}

		c.mu.Lock()
		c.builds++
		evicted := c.put(key, v)
		c.mu.Unlock()

		c.notify(EventBuild)
		for i := 0; i < evicted; i++ {
			c.notify(EventEvictCapacity)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, eris.Wrapf(ctx.Err(), "cache %s: waiting for %s", c.cfg.Name, key)
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Clear removes every entry. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys returns the cached keys from most to least recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

// Sweep removes expired entries and returns how many were dropped.
// Expiry is also enforced lazily by Get, so sweeping only frees memory.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V])) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	c.evictions += uint64(removed)
	c.mu.Unlock()

	for i := 0; i < removed; i++ {
		c.notify(EventEvictExpired)
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (c *Cache[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.cfg.TTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:      c.cfg.Name,
		Entries:   c.ll.Len(),
		Capacity:  c.cfg.Size,
		TTLSecs:   c.cfg.TTL.Seconds(),
		Hits:      c.hits,
		Misses:    c.misses,
		Builds:    c.builds,
		Evictions: c.evictions,
	}
}

func (c *Cache[V]) expired(ent *entry[V]) bool {
	return !ent.expires.IsZero() && !c.nowFunc().Before(ent.expires)
}

func (c *Cache[V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}

func (c *Cache[V]) notify(event string) {
	if c.cfg.Observer != nil {
		c.cfg.Observer.CacheEvent(event)
	}
}
