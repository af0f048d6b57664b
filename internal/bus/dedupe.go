package bus

import (
	"sync"
	"time"
)

// DedupeCache drops repeated event ids inside a TTL window. Hooks and
// HTTP clients retry on flaky networks, so the same event can arrive
// more than once; the log should still record it once.
//
// Entries expire after TTL and are pruned lazily on each check.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]int64 // key -> unix millis
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache creates a dedupe cache.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		entries: make(map[string]int64, 256),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// IsDuplicate reports whether key was already seen within the TTL
// window, recording it for future checks when it was not.
func (d *DedupeCache) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	now := time.Now().UnixMilli()
	cutoff := now - d.ttl.Milliseconds()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.entries[key]; ok && ts >= cutoff {
		return true
	}

	d.cleanup(cutoff)
	d.entries[key] = now
	return false
}

// cleanup removes expired entries and evicts arbitrary ones while over
// maxSize. Must be called with d.mu held.
func (d *DedupeCache) cleanup(cutoff int64) {
	for k, ts := range d.entries {
		if ts < cutoff {
			delete(d.entries, k)
		}
	}

	if d.maxSize > 0 && len(d.entries) >= d.maxSize {
		excess := len(d.entries) - d.maxSize + 1
		for k := range d.entries {
			if excess <= 0 {
				break
			}
			delete(d.entries, k)
			excess--
		}
	}
}
