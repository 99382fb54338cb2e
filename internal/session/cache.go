// Package session holds the fastest, least durable copy of each collection.
package session

import (
	"context"
	"sync"

	"github.com/dvloznov/finsync/internal/domain"
)

// Cache mirrors the last-known-good collection per kind. Implementations
// never fail; entries are scoped to the principal carried by ctx.
type Cache interface {
	Get(ctx context.Context, kind domain.Kind) (domain.Collection, bool)
	Set(ctx context.Context, kind domain.Kind, c domain.Collection)
}

type cacheKey struct {
	principal string
	kind      domain.Kind
}

// Memory is an in-process Cache. It stores copies so callers cannot mutate
// cached state, and is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[cacheKey]domain.Collection
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[cacheKey]domain.Collection)}
}

func keyFor(ctx context.Context, kind domain.Kind) cacheKey {
	p, _ := domain.PrincipalFrom(ctx)
	return cacheKey{principal: p, kind: kind}
}

// Get implements Cache.
func (m *Memory) Get(ctx context.Context, kind domain.Kind) (domain.Collection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.entries[keyFor(ctx, kind)]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Set implements Cache.
func (m *Memory) Set(ctx context.Context, kind domain.Kind, c domain.Collection) {
	cp := c.Clone()
	if cp == nil {
		cp = domain.Collection{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[keyFor(ctx, kind)] = cp
}

// Invalidate drops the entry for kind in ctx's scope.
func (m *Memory) Invalidate(ctx context.Context, kind domain.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, keyFor(ctx, kind))
}

// Len returns the number of cached entries across all scopes.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Ensure Memory implements Cache.
var _ Cache = (*Memory)(nil)
