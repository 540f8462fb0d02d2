package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linetrace-io/linetrace/internal/config"
)

const (
	// AuthModeOff disables API-key authentication entirely.
	AuthModeOff = "off"
	// AuthModeAPIKey enforces API keys on the protected prefixes.
	AuthModeAPIKey = "api_key"

	defaultAPIKeyHeader = "X-API-Key" // pragma: allowlist secret

	defaultRatePerMinute       = 30
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
	maxRateLimiterEntries      = 10000
)

// ErrInvalidAuthMode indicates AUTH_MODE is neither off nor api_key.
var ErrInvalidAuthMode = errors.New("invalid auth mode")

type (
	// AuthConfig holds API-key authentication configuration.
	AuthConfig struct {
		Mode            string   // off | api_key
		Header          string   // header carrying the tenant API key
		AdminKey        string   // X-Admin-API-Key value for admin operations
		ProtectPrefixes []string // path prefixes requiring a key
		ExemptPaths     []string // exact paths bypassing auth inside the prefixes
	}

	// RateLimitConfig holds token-bucket rate limiter configuration.
	// The limit is requests per minute, keyed by tenant for authenticated
	// requests and by client IP otherwise.
	RateLimitConfig struct {
		PerMinute       int
		CleanupInterval time.Duration
		IdleTimeout     time.Duration
		MaxEntries      int
	}
)

// LoadAuthConfig loads authentication configuration from environment
// variables.
func LoadAuthConfig() *AuthConfig {
	return &AuthConfig{
		Mode:     config.GetEnvStr("AUTH_MODE", AuthModeOff),
		Header:   config.GetEnvStr("AUTH_API_KEY_HEADER", defaultAPIKeyHeader),
		AdminKey: config.GetEnvStr("AUTH_ADMIN_API_KEY", ""),
		ProtectPrefixes: config.ParseCommaSeparatedList(
			config.GetEnvStr("AUTH_PROTECT_PREFIXES", "/api"),
		),
		ExemptPaths: config.ParseCommaSeparatedList(
			config.GetEnvStr("AUTH_EXEMPT_PATHS", "/healthz,/docs,/openapi.json,/api/auth/login"),
		),
	}
}

// Validate checks the auth configuration.
func (c *AuthConfig) Validate() error {
	switch c.Mode {
	case AuthModeOff, AuthModeAPIKey:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAuthMode, c.Mode)
	}

	if c.Mode == AuthModeAPIKey && strings.TrimSpace(c.Header) == "" {
		return fmt.Errorf("%w: api_key mode needs a key header", ErrInvalidAuthMode)
	}

	return nil
}

// Enforced reports whether the path falls under key enforcement.
func (c *AuthConfig) Enforced(path string) bool {
	if c.Mode != AuthModeAPIKey {
		return false
	}

	for _, exempt := range c.ExemptPaths {
		if path == exempt {
			return false
		}
	}

	for _, prefix := range c.ProtectPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// LoadRateLimitConfig loads rate limiter configuration from environment
// variables.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		PerMinute:       config.GetEnvInt("RATE_LIMIT_PER_MINUTE", defaultRatePerMinute),
		CleanupInterval: config.GetEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("RATE_LIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
		MaxEntries:      config.GetEnvInt("RATE_LIMIT_MAX_ENTRIES", maxRateLimiterEntries),
	}
}
