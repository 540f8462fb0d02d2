package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/linetrace-io/linetrace/internal/api/middleware"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 500
)

// TenantHeader names the tenant explicitly when no API key binds one
// (auth mode off, or admin-key requests acting on behalf of a tenant).
const TenantHeader = "X-Tenant-Id"

// requireTenant resolves the tenant of a request. An API-key-bound
// tenant always wins; the X-Tenant-Id header only counts when no key
// bound one. Writes a 400 and returns false when no tenant resolves.
func (s *Server) requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	if tenantCtx, ok := middleware.GetTenantContext(r.Context()); ok && tenantCtx.TenantID != "" {
		return tenantCtx.TenantID, true
	}

	if tenantID := strings.TrimSpace(r.Header.Get(TenantHeader)); tenantID != "" {
		return tenantID, true
	}

	WriteErrorResponse(w, r, s.logger, BadRequest("No tenant resolved; supply an API key or "+TenantHeader))

	return "", false
}

// requireAdmin gates administrative operations. With auth enabled only
// the admin key passes; with auth off the deployment accepts any caller.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.AuthConfig == nil || s.deps.AuthConfig.Mode == middleware.AuthModeOff {
		return true
	}

	if tenantCtx, ok := middleware.GetTenantContext(r.Context()); ok && tenantCtx.Admin {
		return true
	}

	WriteErrorResponse(w, r, s.logger, Forbidden("This operation requires the admin API key"))

	return false
}

// pageParams reads page/page_size from the query string with defaults
// and caps.
func pageParams(r *http.Request) (int, int) {
	page := queryInt(r, "page", defaultPage)
	if page < 1 {
		page = defaultPage
	}

	pageSize := queryInt(r, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	return page, pageSize
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return value
}

func queryBool(r *http.Request, name string) bool {
	raw := strings.ToLower(r.URL.Query().Get(name))

	return raw == "true" || raw == "1" || raw == "yes"
}
