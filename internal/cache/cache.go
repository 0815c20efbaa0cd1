// Package cache implements a two-tier keyed cache: a bounded in-process LRU
// in front of the store's cache_entries table. There is no cross-instance
// consistency guarantee; instances converge via TTL.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TTLs per key family.
const (
	DefaultTTL      = 15 * time.Minute
	VideoSummaryTTL = 60 * time.Minute
)

// memoryEntries caps the in-process tier so it cannot grow without bound.
const memoryEntries = 10000

// Store is the persistence surface of the backing tier.
type Store interface {
	GetCacheEntry(key string, now time.Time) ([]byte, *time.Time, error)
	SetCacheEntry(key string, value []byte, expiresAt time.Time) error
	DeleteExpiredCacheEntries(now time.Time) (int64, error)
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is the two-tier cache.
type Cache struct {
	store  Store
	memory *lru.Cache[string, memoryEntry]
	now    func() time.Time
}

// New creates a cache over the given store.
func New(store Store) *Cache {
	mem, err := lru.New[string, memoryEntry](memoryEntries)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	return &Cache{store: store, memory: mem, now: time.Now}
}

// Key builds a cache key as <prefix>:<md5 of the parts joined with ":">.
func Key(prefix string, parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, ":")))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// Get probes the memory tier first, then the store. A store hit warms the
// memory tier. Returns nil on a miss or an expired entry.
func (c *Cache) Get(key string) []byte {
	now := c.now()

	if entry, ok := c.memory.Get(key); ok {
		if entry.expiresAt.After(now) {
			return entry.value
		}
		c.memory.Remove(key)
	}

	value, expiresAt, err := c.store.GetCacheEntry(key, now)
	if err != nil {
		log.Printf("!!! [CACHE] Store read failed for '%s': %v", key, err)
		return nil
	}
	if value == nil {
		return nil
	}
	c.memory.Add(key, memoryEntry{value: value, expiresAt: *expiresAt})
	return value
}

// Set writes the value to both tiers with the given TTL.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	expiresAt := c.now().Add(ttl)
	c.memory.Add(key, memoryEntry{value: value, expiresAt: expiresAt})
	if err := c.store.SetCacheEntry(key, value, expiresAt); err != nil {
		log.Printf("!!! [CACHE] Store write failed for '%s': %v", key, err)
	}
}

// Sweep prunes expired entries from both tiers.
func (c *Cache) Sweep() {
	now := c.now()
	for _, key := range c.memory.Keys() {
		if entry, ok := c.memory.Peek(key); ok && !entry.expiresAt.After(now) {
			c.memory.Remove(key)
		}
	}
	n, err := c.store.DeleteExpiredCacheEntries(now)
	if err != nil {
		log.Printf("!!! [CACHE] Store sweep failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[CACHE] Swept %d expired entr(ies) from the store tier.", n)
	}
}

// StartSweeper runs Sweep on the interval until the context is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
