// Package cache holds recently decrypted attachment bytes in memory for a
// fixed time window. Entries expire lazily on access; nothing is persisted.
package cache

import (
	"sync"
	"time"

	"github.com/acsdeveloper2025/caseflow-mobile-sub002/internal/app"
)

// DefaultTTL is how long a decrypted payload stays cached.
const DefaultTTL = 30 * time.Minute

type entry struct {
	data     []byte
	storedAt time.Time
}

// Cache maps attachment ids to plaintext. It is safe for concurrent use.
type Cache struct {
	ttl   time.Duration
	clock app.Clock

	mu      sync.Mutex
	entries map[string]entry
}

// New returns a Cache. A non-positive ttl selects DefaultTTL; a nil clock
// selects app.SystemClock.
func New(ttl time.Duration, clock app.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = app.SystemClock{}
	}
	return &Cache{ttl: ttl, clock: clock, entries: make(map[string]entry)}
}

// Get returns a copy of the cached bytes for id if present and fresh.
// Stale entries are dropped and zeroed.
func (c *Cache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.storedAt) >= c.ttl {
		c.dropLocked(id, e)
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Put stores a private copy of data under id, replacing any previous entry.
func (c *Cache) Put(id string, data []byte) {
	cp := append([]byte(nil), data...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[id]; ok {
		zero(old.data)
	}
	c.entries[id] = entry{data: cp, storedAt: c.clock.Now()}
}

// Delete evicts id.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		c.dropLocked(id, e)
	}
}

// Clear evicts everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		c.dropLocked(id, e)
	}
}

// Len reports the number of entries, including any not yet lazily expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) dropLocked(id string, e entry) {
	zero(e.data)
	delete(c.entries, id)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
