// Package middleware provides the HTTP middleware components for the
// LineTrace API.
package middleware

import (
	"context"
	"time"
)

// tenantContextKey is the context key for authenticated tenant information.
type tenantContextKey struct{}

// TenantContext carries the authenticated identity of a request. The
// tenant is bound by the API key; a client-supplied X-Tenant-Id header is
// never trusted over it.
type TenantContext struct {
	// TenantID is the tenant the API key belongs to. Empty for
	// admin-only requests.
	TenantID string

	// KeyID is the API key ID used for authentication.
	KeyID string

	// Label is the human-readable key label for logging.
	Label string

	// Admin marks requests authenticated with the admin API key.
	Admin bool

	// AuthTime is when authentication occurred.
	AuthTime time.Time
}

// GetTenantContext extracts the tenant context from the request context.
// Returns (context, true) if authenticated, (zero, false) if not.
func GetTenantContext(ctx context.Context) (TenantContext, bool) {
	tenantCtx, ok := ctx.Value(tenantContextKey{}).(TenantContext)

	return tenantCtx, ok
}

// SetTenantContext attaches a tenant context to the request context.
func SetTenantContext(ctx context.Context, tenantCtx TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantCtx)
}
