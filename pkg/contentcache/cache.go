package contentcache

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Entry is a cached value plus its bookkeeping.
type Entry[V any] struct {
	Key            string
	Value          V
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AccessCount    int64
	LastAccessedAt time.Time

	seq uint64
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats counters are cumulative since construction, Size is current.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
	Capacity    int   `json:"capacity"`
}

type Options struct {
	Capacity   int
	DefaultTTL time.Duration
	// SingleFlight collapses concurrent GetOrCompute misses for the same key
	// into one producer call. Off by default.
	SingleFlight bool
	Now          func() time.Time
}

// Cache is an in-process key/value store with per-entry TTL and LRU
// eviction at capacity. A single mutex guards the map; sweeps take it too.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[V]
	seq     uint64
	stats   Stats

	capacity   int
	defaultTTL time.Duration
	now        func() time.Time

	group        singleflight.Group
	singleFlight bool
}

// New builds a cache. Capacity defaults to 512 and DefaultTTL to 5 minutes.
func New[V any](opts Options) *Cache[V] {
	if opts.Capacity <= 0 {
		opts.Capacity = 512
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[V]{
		entries:      make(map[string]*Entry[V], opts.Capacity),
		capacity:     opts.Capacity,
		defaultTTL:   opts.DefaultTTL,
		now:          opts.Now,
		singleFlight: opts.SingleFlight,
	}
}

// Set stores value under key, replacing any previous entry and restarting
// its TTL. A non-positive ttl uses the default.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.makeRoomLocked(now)
	}

	c.seq++
	c.entries[key] = &Entry[V]{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
		seq:            c.seq,
	}
}

// Get returns the live value for key. Expired entries are removed and
// reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	now := c.now()
	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if entry.expired(now) {
		delete(c.entries, key)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	c.stats.Hits++
	return entry.Value, true
}

// Has reports whether a live entry exists. It does not count as an access.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	return ok && !entry.expired(c.now())
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// DeletePrefix removes every key starting with prefix and returns how many
// were removed.
func (c *Cache[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// GetOrCompute returns the cached value for key or runs producer and stores
// its result. A producer error is returned as is and nothing is cached.
// Without SingleFlight, concurrent misses may each invoke the producer.
func (c *Cache[V]) GetOrCompute(key string, ttl time.Duration, producer func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	if !c.singleFlight {
		value, err := producer()
		if err != nil {
			return value, err
		}
		c.Set(key, value, ttl)
		return value, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		value, err := producer()
		if err != nil {
			return value, err
		}
		c.Set(key, value, ttl)
		return value, nil
	})
	value, _ := result.(V)
	return value, err
}

// Sweep drops every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.purgeExpiredLocked(c.now())
	if removed > 0 {
		logrus.Debugf("[CACHE] Swept %d expired entries, %d remaining", removed, len(c.entries))
	}
	return removed
}

// Clear empties the cache. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry[V], c.capacity)
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Size = len(c.entries)
	stats.Capacity = c.capacity
	return stats
}

// Peek returns a copy of the entry bookkeeping without touching it.
func (c *Cache[V]) Peek(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry[V]{}, false
	}
	return *entry, true
}

func (c *Cache[V]) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	c.stats.Expirations += int64(removed)
	return removed
}

// makeRoomLocked frees one slot. Expired entries go first; if none are
// expired the least recently accessed entry is evicted, oldest insertion
// winning ties.
func (c *Cache[V]) makeRoomLocked(now time.Time) {
	if c.purgeExpiredLocked(now) > 0 && len(c.entries) < c.capacity {
		return
	}

	var victim *Entry[V]
	for _, entry := range c.entries {
		if victim == nil ||
			entry.LastAccessedAt.Before(victim.LastAccessedAt) ||
			(entry.LastAccessedAt.Equal(victim.LastAccessedAt) && entry.seq < victim.seq) {
			victim = entry
		}
	}
	if victim != nil {
		delete(c.entries, victim.Key)
		c.stats.Evictions++
	}
}
