package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/wind-field-service/internal/models"
)

// DefaultMaxAge is how long a stored document pair is served before a refetch.
const DefaultMaxAge = 6 * time.Hour

// ErrWrite wraps failures to persist an entry.
var ErrWrite = errors.New("cache write failed")

// Cache stores serialized wind documents by model cycle.
// Get returns ok=false both for absent keys and for entries older than the
// cache's max age; stale entries stay in place until the next Set.
type Cache interface {
	Get(ctx context.Context, key models.CycleKey) (models.WindDocuments, bool, error)
	Set(ctx context.Context, key models.CycleKey, docs models.WindDocuments) error
}

// InMemoryCache implements Cache with a map. Safe for concurrent use.
type InMemoryCache struct {
	mu     sync.RWMutex
	data   map[string]cacheEntry
	maxAge time.Duration
	clock  clockwork.Clock
}

type cacheEntry struct {
	docs      models.WindDocuments
	createdAt time.Time
}

// NewInMemoryCache creates an in-memory cache. A nil clock uses the real clock.
func NewInMemoryCache(maxAge time.Duration, clock clockwork.Clock) *InMemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &InMemoryCache{
		data:   make(map[string]cacheEntry),
		maxAge: maxAge,
		clock:  clock,
	}
}

// Get returns the entry for key if it is younger than the max age.
func (c *InMemoryCache) Get(ctx context.Context, key models.CycleKey) (models.WindDocuments, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key.String()]
	c.mu.RUnlock()
	if !ok || c.clock.Since(entry.createdAt) >= c.maxAge {
		return models.WindDocuments{}, false, nil
	}
	return entry.docs, true, nil
}

// Set stores docs under key, replacing any previous entry.
func (c *InMemoryCache) Set(ctx context.Context, key models.CycleKey, docs models.WindDocuments) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key.String()] = cacheEntry{docs: docs, createdAt: c.clock.Now()}
	return nil
}

// Len returns the number of stored entries, fresh or stale.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
