// Package cache is the short-lived read cache placed in front of the stage
// lookups and the GA version source. A nil *Cache is valid and caches
// nothing.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// New returns nil when ttl is zero, which turns caching off.
func New(maxItems int64, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		return nil, nil
	}
	if maxItems < 1 {
		maxItems = 1 << 14
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxItems * 10,
		MaxCost:     maxItems,
		BufferItems: 64,
		// cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func (c *Cache) Get(key string) (interface{}, bool) {
	if c == nil {
		return nil, false
	}
	return c.c.Get(key)
}

// Set stores v with a cost of one item. Admission is best effort.
func (c *Cache) Set(key string, v interface{}) {
	if c == nil {
		return
	}
	c.c.SetWithTTL(key, v, 1, c.ttl)
}

// Wait blocks until pending sets are visible to Get.
func (c *Cache) Wait() {
	if c == nil {
		return
	}
	c.c.Wait()
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.c.Close()
}
