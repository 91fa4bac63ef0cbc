// Package tenant validates tenant identifiers before any other component
// touches tenant scoped data.
package tenant

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/store"
)

// ErrInvalidTenant is returned for empty, malformed or unknown tenants.
var ErrInvalidTenant = errors.New("invalid tenant")

// Cache is an append-only set of tenants already resolved.
//
// It is populated on the first successful lookup of a tenant and only cleared
// when the process restarts. A tenant deleted at runtime keeps resolving until
// then.
type Cache struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{ids: make(map[string]struct{})}
}

func (c *Cache) Has(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.ids[id]
	return ok
}

func (c *Cache) Add(id string) {
	c.mu.Lock()
	c.ids[id] = struct{}{}
	c.mu.Unlock()
}

// Len returns the number of cached tenants.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Resolver checks tenants against the store and memoises the successes.
type Resolver struct {
	store store.TenantStore
	cache *Cache
}

// NewResolver creates a Resolver. A nil cache gets a private one.
func NewResolver(s store.TenantStore, cache *Cache) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{store: s, cache: cache}
}

// Resolve returns nil when tenantID designates a usable tenant. Business
// failures wrap ErrInvalidTenant; store failures are returned as is.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidTenant)
	}
	if r.cache.Has(tenantID) {
		return nil
	}
	if tenantID == model.DefaultTenantID {
		return nil
	}
	if !WellFormed(tenantID) {
		return fmt.Errorf("%w: malformed id %q", ErrInvalidTenant, tenantID)
	}
	ok, err := r.store.TenantExists(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("lookup tenant %s: %w", tenantID, err)
	}
	if !ok {
		return fmt.Errorf("%w: unknown id %q", ErrInvalidTenant, tenantID)
	}
	r.cache.Add(tenantID)
	return nil
}

// WellFormed reports whether id has the 24 hex character object id format.
func WellFormed(id string) bool {
	if len(id) != 24 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
