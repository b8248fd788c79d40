package storage

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CacheArea is the fast, tab-scoped store area. Entries expire after the
// configured TTL so abandoned sessions do not accumulate.
type CacheArea struct {
	cache    *gocache.Cache
	ttl      time.Duration
	notifier *notifier
}

// NewCacheArea creates a tab-scoped area whose entries live for ttl
func NewCacheArea(ttl time.Duration) *CacheArea {
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &CacheArea{
		cache:    gocache.New(ttl, cleanup),
		ttl:      ttl,
		notifier: newNotifier(),
	}
}

// Get returns the values for the requested keys
func (c *CacheArea) Get(keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := c.cache.Get(key); ok {
			out[key] = v.([]byte)
		}
	}
	return out, nil
}

// Set writes all entries, refreshing their TTL
func (c *CacheArea) Set(values map[string][]byte) error {
	keys := make([]string, 0, len(values))
	for key, val := range values {
		c.cache.Set(key, val, gocache.DefaultExpiration)
		keys = append(keys, key)
	}
	c.notifier.notify(keys...)
	return nil
}

// Delete removes the given keys
func (c *CacheArea) Delete(keys ...string) error {
	for _, key := range keys {
		c.cache.Delete(key)
	}
	c.notifier.notify(keys...)
	return nil
}

// OnChange registers a change callback
func (c *CacheArea) OnChange(fn func(key string)) func() {
	return c.notifier.register(fn)
}

// Close flushes the cache
func (c *CacheArea) Close() error {
	c.cache.Flush()
	return nil
}
