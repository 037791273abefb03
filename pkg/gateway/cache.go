// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// cacheKey computes a deterministic key for a (tool, arguments) pair.
// encoding/json sorts map keys, so the marshaled form is canonical for
// equal argument maps regardless of construction order.
func cacheKey(tool string, args map[string]any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil)), nil
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// resultCache is a TTL cache over raw tool results. Expired entries are
// evicted lazily on read; no sweeper goroutine.
type resultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// get returns the cached value when present and unexpired.
func (c *resultCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// set stores a value with the configured TTL.
func (c *resultCache) set(key string, value any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// len returns the number of stored entries, including any not yet evicted.
func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
