package ors

import (
	"context"
	"sync"
)

// MemCache is an in-process Cache for runs without a database store.
// Entries live for the duration of one pipeline run; the run owns the
// cache, there is no ambient global state.
type MemCache struct {
	mu sync.RWMutex
	m  map[string]*Route
}

// NewMemCache creates an empty in-memory route cache.
func NewMemCache() *MemCache {
	return &MemCache{m: make(map[string]*Route)}
}

func (c *MemCache) GetRoute(_ context.Context, key string) (*Route, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.m[key]
	return r, ok, nil
}

func (c *MemCache) PutRoute(_ context.Context, key string, r *Route) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = r
	return nil
}

// Len returns the number of cached routes.
func (c *MemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
