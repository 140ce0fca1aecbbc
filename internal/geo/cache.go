package geo

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL        = time.Hour
	DefaultCacheMaxEntries = 10000
)

// Lookup outcomes reported to OnLookup.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultSkipped = "skipped"
	ResultError   = "error"
)

type cacheEntry struct {
	info    Info
	expires time.Time
}

// CachedResolver memoizes successful lookups for a TTL and collapses
// concurrent lookups of the same IP into one upstream call.
type CachedResolver struct {
	next       Resolver
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	// OnLookup receives one of the Result* constants per call.
	OnLookup func(result string)

	mu      sync.Mutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

type CacheOption func(*CachedResolver)

func WithTTL(d time.Duration) CacheOption {
	return func(c *CachedResolver) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithMaxEntries(n int) CacheOption {
	return func(c *CachedResolver) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithOnLookup(fn func(result string)) CacheOption {
	return func(c *CachedResolver) { c.OnLookup = fn }
}

func withCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedResolver) { c.now = now }
}

func NewCachedResolver(next Resolver, opts ...CacheOption) *CachedResolver {
	c := &CachedResolver{
		next:       next,
		ttl:        DefaultCacheTTL,
		maxEntries: DefaultCacheMaxEntries,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *CachedResolver) report(result string) {
	if c.OnLookup != nil {
		c.OnLookup(result)
	}
}

func (c *CachedResolver) Lookup(ctx context.Context, ip string) (Info, error) {
	if Skippable(ip) {
		c.report(ResultSkipped)
		return Unknown(ip), ErrLookupSkipped
	}

	if info, ok := c.get(ip); ok {
		c.report(ResultHit)
		return info, nil
	}

	// The shared call must outlive any single caller that gives up early.
	ch := c.group.DoChan(ip, func() (any, error) {
		info, err := c.next.Lookup(context.WithoutCancel(ctx), ip)
		if err == nil {
			c.put(ip, info)
		}
		return info, err
	})

	select {
	case <-ctx.Done():
		c.report(ResultError)
		return Unknown(ip), ctx.Err()
	case res := <-ch:
		info, _ := res.Val.(Info)
		switch {
		case errors.Is(res.Err, ErrLookupSkipped):
			c.report(ResultSkipped)
		case res.Err != nil:
			c.report(ResultError)
		default:
			c.report(ResultMiss)
		}
		if res.Err != nil {
			return Unknown(ip), res.Err
		}
		return info, nil
	}
}

func (c *CachedResolver) get(ip string) (Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ip]
	if !ok {
		return Info{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, ip)
		return Info{}, false
	}
	return e.info, true
}

func (c *CachedResolver) put(ip string, info Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.entries[ip]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[ip] = cacheEntry{info: info, expires: now.Add(c.ttl)}
}

// evictLocked drops expired entries, then the entry closest to expiry if the
// cache is still full.
func (c *CachedResolver) evictLocked(now time.Time) {
	var (
		oldestIP string
		oldest   time.Time
	)
	for ip, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, ip)
			continue
		}
		if oldestIP == "" || e.expires.Before(oldest) {
			oldestIP, oldest = ip, e.expires
		}
	}
	if len(c.entries) >= c.maxEntries && oldestIP != "" {
		delete(c.entries, oldestIP)
	}
}

// Len returns the number of cached entries, expired ones included.
func (c *CachedResolver) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
