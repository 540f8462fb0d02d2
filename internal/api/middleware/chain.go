package middleware

import (
	"log/slog"
	"net/http"

	"github.com/linetrace-io/linetrace/internal/audit"
)

// Option is a function that applies middleware to a handler.
type Option func(http.Handler) http.Handler

// Apply applies a chain of middleware options to a base handler.
// Middleware is applied in the order provided (the first option becomes
// the outermost wrapper).
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithAuth(authCfg, keys, logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithAudit(publisher),
//	    middleware.WithRequestLogger(logger),
//	    middleware.WithCORS(corsConfig),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return func(next http.Handler) http.Handler {
		return CorrelationID()(next)
	}
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return func(next http.Handler) http.Handler {
		return Recovery(logger)(next)
	}
}

// WithAuth returns an option that adds API-key authentication.
// A nil keys store skips the middleware entirely.
func WithAuth(cfg *AuthConfig, keys KeyAuthenticator, logger *slog.Logger) Option {
	if keys == nil || cfg == nil || cfg.Mode == AuthModeOff {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return Authenticate(cfg, keys, logger)(next)
	}
}

// WithRateLimit returns an option that adds rate limiting.
// A nil limiter skips the middleware entirely.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return RateLimit(limiter, logger)(next)
	}
}

// WithAudit returns an option that adds audit event publishing.
// A nil publisher skips the middleware entirely.
func WithAudit(publisher *audit.Publisher) Option {
	if publisher == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return Audit(publisher)(next)
	}
}

// WithRequestLogger returns an option that adds request logging.
func WithRequestLogger(logger *slog.Logger) Option {
	return func(next http.Handler) http.Handler {
		return RequestLogger(logger)(next)
	}
}

// WithCORS returns an option that adds CORS handling.
func WithCORS(config CORSConfig) Option {
	return func(next http.Handler) http.Handler {
		return CORS(config)(next)
	}
}
