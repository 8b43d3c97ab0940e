package dispatch

import (
	"sync"
	"time"

	"github.com/dukex/flowcore/pkg/models"
)

// DefaultCacheTTL is how long a trigger definition is served from memory.
const DefaultCacheTTL = 300 * time.Second

type cacheEntry struct {
	trigger   *models.TriggerDefinition
	expiresAt time.Time
}

// TriggerCache keeps trigger definitions in memory for a fixed TTL.
type TriggerCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

func NewTriggerCache(ttl time.Duration) *TriggerCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &TriggerCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached trigger while it is fresh.
func (c *TriggerCache) Get(triggerID string) (*models.TriggerDefinition, bool) {
	c.mu.RLock()
	entry, ok := c.entries[triggerID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if !c.now().Before(entry.expiresAt) {
		c.Invalidate(triggerID)

		return nil, false
	}

	return entry.trigger, true
}

func (c *TriggerCache) Set(trigger *models.TriggerDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[trigger.ID] = cacheEntry{trigger: trigger, expiresAt: c.now().Add(c.ttl)}
}

func (c *TriggerCache) Invalidate(triggerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, triggerID)
}

// Purge drops expired entries and returns how many were removed.
func (c *TriggerCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0

	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}

	return removed
}

// Len returns the number of entries, fresh or not.
func (c *TriggerCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
