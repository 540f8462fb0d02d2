package schema

import (
	"context"
	"fmt"
	"sync"
)

type (
	// Store is the persistence interface the registry reads from.
	// Implemented by storage.SchemaStore.
	Store interface {
		// FindVersion returns the schema version registered for the
		// fingerprint, or (nil, nil) when none exists.
		FindVersion(ctx context.Context, tenantID, tableCode, fingerprint string) (*Version, error)
	}

	// Registry resolves header rows to registered schema versions.
	//
	// Resolved versions are cached per-process. Schema versions are
	// immutable, so the cache never needs invalidation; a miss always
	// falls through to the store.
	Registry struct {
		store Store

		mu    sync.RWMutex
		cache map[cacheKey]*Version
	}

	cacheKey struct {
		tenantID    string
		tableCode   string
		fingerprint string
	}
)

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		cache: make(map[cacheKey]*Version),
	}
}

// Resolve maps a raw header row to the registered schema version for
// (tenant, table_code). Returns ErrHeaderMismatch when the fingerprint is
// unknown; registering a new fingerprint is an admin operation outside
// this service.
func (r *Registry) Resolve(ctx context.Context, tenantID, tableCode string, headerRow []string) (*Version, error) {
	fingerprint := Fingerprint(headerRow)

	return r.ResolveFingerprint(ctx, tenantID, tableCode, fingerprint)
}

// ResolveFingerprint resolves an already-computed fingerprint.
func (r *Registry) ResolveFingerprint(
	ctx context.Context,
	tenantID, tableCode, fingerprint string,
) (*Version, error) {
	key := cacheKey{tenantID: tenantID, tableCode: tableCode, fingerprint: fingerprint}

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()

	if ok {
		return cached, nil
	}

	version, err := r.store.FindVersion(ctx, tenantID, tableCode, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema version: %w", err)
	}

	if version == nil {
		return nil, fmt.Errorf("%w: tenant=%s table=%s fingerprint=%s",
			ErrHeaderMismatch, tenantID, tableCode, fingerprint)
	}

	r.mu.Lock()
	r.cache[key] = version
	r.mu.Unlock()

	return version, nil
}
