package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/linetrace-io/linetrace/internal/storage"
)

// AdminKeyHeader carries the admin API key for administrative operations
// (tenant and user management).
const AdminKeyHeader = "X-Admin-API-Key" // pragma: allowlist secret

// Authentication error types for granular error handling.
var (
	// ErrMissingAPIKey is returned when no API key is provided.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey covers bad format, unknown, and inactive keys.
	// One generic error prevents key enumeration.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// KeyAuthenticator resolves raw API keys. Implemented by storage.KeyStore.
type KeyAuthenticator interface {
	FindByKey(ctx context.Context, rawKey string) (*storage.APIKey, bool)
	TouchLastUsed(ctx context.Context, keyID string)
}

// Authenticate creates the API-key authentication middleware.
//
// Requests to paths the config enforces must carry a tenant API key in
// the configured header (Authorization: Bearer is accepted as a
// fallback). The authenticated tenant is bound into the request context;
// any client-supplied tenant header is ignored from here on. A valid
// admin key authenticates without a tenant key and marks the context as
// admin.
func Authenticate(cfg *AuthConfig, keys KeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enforced(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			if cfg.AdminKey != "" {
				if supplied := r.Header.Get(AdminKeyHeader); supplied != "" {
					if storage.SecureCompare(supplied, cfg.AdminKey) {
						ctx := SetTenantContext(r.Context(), TenantContext{
							Admin:    true,
							AuthTime: time.Now(),
						})

						next.ServeHTTP(w, r.WithContext(ctx))

						return
					}

					writeAuthError(w, r, logger, ErrInvalidAPIKey)

					return
				}
			}

			rawKey, found := extractAPIKey(r, cfg.Header)
			if !found {
				writeAuthError(w, r, logger, ErrMissingAPIKey)

				return
			}

			parsed, err := storage.ParseAPIKey(rawKey)
			if err != nil {
				logger.Warn("authentication failed: bad key format",
					slog.String("correlation_id", GetCorrelationID(r.Context())),
					slog.String("endpoint", r.URL.Path),
				)

				writeAuthError(w, r, logger, ErrInvalidAPIKey)

				return
			}

			authStart := time.Now()

			key, ok := keys.FindByKey(r.Context(), parsed)
			if !ok {
				logger.Warn("authentication failed: key not found or inactive",
					slog.String("correlation_id", GetCorrelationID(r.Context())),
					slog.String("endpoint", r.URL.Path),
				)

				writeAuthError(w, r, logger, ErrInvalidAPIKey)

				return
			}

			keys.TouchLastUsed(r.Context(), key.ID)

			ctx := SetTenantContext(r.Context(), TenantContext{
				TenantID: key.TenantID,
				KeyID:    key.ID,
				Label:    key.Label,
				AuthTime: time.Now(),
			})

			logger.Info("API key authenticated",
				slog.String("tenant_id", key.TenantID),
				slog.String("key_id", key.ID),
				slog.String("key", key.MaskedKey),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", GetCorrelationID(r.Context())),
				slog.String("endpoint", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractAPIKey reads the API key from the configured header, falling
// back to Authorization: Bearer. Keys with newlines are rejected outright
// to prevent header injection.
func extractAPIKey(r *http.Request, header string) (string, bool) {
	if key := r.Header.Get(header); key != "" {
		return cleanAPIKey(key)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return cleanAPIKey(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return "", false
}

func cleanAPIKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

// writeAuthError writes an RFC 7807 401 response for an auth failure.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, authErr error) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("authentication failed",
		slog.String("reason", authErr.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	detail := authErr.Error()
	if err := writeRFC7807Error(w, r, http.StatusUnauthorized, detail, correlationID); err != nil {
		logger.Error("failed to write RFC 7807 error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)

		http.Error(w, detail, http.StatusUnauthorized)
	}
}
