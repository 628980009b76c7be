package cache

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/telekom/sessionctl/pkg/metrics"
)

// TTL classes.
const (
	// ShortTTL is for auth status, which must track external changes closely.
	ShortTTL = 30 * time.Second
	// MediumTTL is for entity lists: expensive to refetch and slow to change.
	MediumTTL = 5 * time.Minute
	// LongTTL is for one-time validation outcomes.
	LongTTL = time.Hour

	DefaultJitter = 0.1
	MaxJitter     = 0.1
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe map whose entries expire after a jittered TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	clock   clock.PassiveClock
	jitter  float64
	rand    func() float64
}

type Option func(*Cache)

func WithClock(c clock.PassiveClock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithJitter sets the jitter fraction, clamped to [0, MaxJitter].
func WithJitter(fraction float64) Option {
	return func(c *Cache) {
		switch {
		case fraction < 0:
			fraction = 0
		case fraction > MaxJitter:
			fraction = MaxJitter
		}
		c.jitter = fraction
	}
}

// WithRand replaces the [0,1) random source used for jitter.
func WithRand(fn func() float64) Option {
	return func(c *Cache) { c.rand = fn }
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: map[string]entry{},
		clock:   clock.RealClock{},
		jitter:  DefaultJitter,
		rand:    rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key, or false when it is missing or expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok && !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues(kindOf(key)).Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues(kindOf(key)).Inc()
	return e.value, true
}

// Set stores value under key for baseTTL*(1±jitter).
func (c *Cache) Set(key string, value any, baseTTL time.Duration) {
	if baseTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: c.clock.Now().Add(c.jittered(baseTTL))}
}

func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	metrics.CacheInvalidations.WithLabelValues("key").Inc()
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	metrics.CacheInvalidations.WithLabelValues("prefix").Inc()
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]entry{}
	metrics.CacheInvalidations.WithLabelValues("all").Inc()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// jittered returns ttl scaled by a factor in [1-jitter, 1+jitter).
func (c *Cache) jittered(ttl time.Duration) time.Duration {
	if c.jitter == 0 {
		return ttl
	}
	factor := 1 + (2*c.rand()-1)*c.jitter
	return time.Duration(float64(ttl) * factor)
}

// Lookup is a typed Get. A stored value of another type is a miss.
func Lookup[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

func kindOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
