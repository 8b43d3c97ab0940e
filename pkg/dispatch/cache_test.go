package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/flowcore/pkg/models"
)

func TestTriggerCache_TTL(t *testing.T) {
	clock := newFakeClock()
	cache := NewTriggerCache(time.Minute)
	cache.now = clock.Now

	cache.Set(&models.TriggerDefinition{ID: "t1", WorkflowID: "wf-1"})

	trigger, ok := cache.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "wf-1", trigger.WorkflowID)

	clock.Advance(59 * time.Second)
	_, ok = cache.Get("t1")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = cache.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestTriggerCache_InvalidateAndPurge(t *testing.T) {
	clock := newFakeClock()
	cache := NewTriggerCache(0)
	cache.now = clock.Now

	assert.Equal(t, DefaultCacheTTL, cache.ttl)

	cache.Set(&models.TriggerDefinition{ID: "old"})
	clock.Advance(4 * time.Minute)
	cache.Set(&models.TriggerDefinition{ID: "new"})
	cache.Set(&models.TriggerDefinition{ID: "dropped"})

	cache.Invalidate("dropped")
	_, ok := cache.Get("dropped")
	assert.False(t, ok)

	clock.Advance(time.Minute)
	assert.Equal(t, 1, cache.Purge())

	_, ok = cache.Get("new")
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}
