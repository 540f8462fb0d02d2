// Package storage provides the PostgreSQL persistence layer: tenants,
// API keys, users, schema versions, the P1/P2/P3 record tables, and the
// import job tables.
package storage

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// API key format constants: "lt_ak_" + 64 hex chars.
	randomBytesSize = 32
	apiKeyPrefix    = "lt_ak_"
	apiKeyLength    = len(apiKeyPrefix) + 2*randomBytesSize
	maskPrefixLen   = 10 // show "lt_ak_1234"
	maskSuffixLen   = 4
)

var (
	// ErrTenantExists is returned when creating a tenant whose code is taken.
	ErrTenantExists = errors.New("tenant already exists")
	// ErrDefaultTenantExists is returned when a second tenant claims the
	// default flag.
	ErrDefaultTenantExists = errors.New("a default tenant already exists")
	// ErrTenantNotFound is returned when no tenant matches.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrInvalidCredentials is returned on a failed username/password login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when creating a user whose username is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrKeyStringEmpty is returned when key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when an API key length is incorrect.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

type (
	// Tenant is one isolated customer of the service.
	Tenant struct {
		ID        string         `json:"id"`
		Code      string         `json:"code"`
		Name      string         `json:"name"`
		IsDefault bool           `json:"is_default"`
		Settings  TenantSettings `json:"settings"`
		CreatedAt time.Time      `json:"created_at"`
		UpdatedAt time.Time      `json:"updated_at"`
	}

	// TenantSettings is the settings_json payload of a tenant row.
	TenantSettings struct {
		// LineageChecks enables the advisory cross-table parent checks
		// during validation.
		LineageChecks bool `json:"lineage_checks"`

		// FlattenOutputMap names the flattener output-map profile for the
		// tenant; empty selects the default 64-column map.
		FlattenOutputMap string `json:"flatten_output_map,omitempty"`
	}

	// APIKey is a tenant-bound API key. Only the HMAC of the raw key is
	// stored; the raw key is shown once at creation.
	APIKey struct {
		ID         string     `json:"id"`
		TenantID   string     `json:"tenant_id"`
		Label      string     `json:"label"`
		KeyHash    string     `json:"-"`
		MaskedKey  string     `json:"masked_key,omitempty"`
		CreatedAt  time.Time  `json:"created_at"`
		LastUsedAt *time.Time `json:"last_used_at,omitempty"`
		Active     bool       `json:"active"`
	}

	// User is a login user of a tenant.
	User struct {
		ID           string    `json:"id"`
		TenantID     string    `json:"tenant_id"`
		Username     string    `json:"username"`
		PasswordHash string    `json:"-"`
		CreatedAt    time.Time `json:"created_at"`
	}
)

// ParseTenantSettings decodes a settings_json payload, tolerating null.
func ParseTenantSettings(raw []byte) (TenantSettings, error) {
	var settings TenantSettings

	if len(raw) == 0 {
		return settings, nil
	}

	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse tenant settings: %w", err)
	}

	return settings, nil
}

// GenerateAPIKey creates a new random API key in the lt_ak_ format.
func GenerateAPIKey() (string, error) {
	randomBytes := make([]byte, randomBytesSize)

	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return apiKeyPrefix + hex.EncodeToString(randomBytes), nil
}

// HashAPIKey computes the stored lookup hash of a raw API key:
// hex(HMAC-SHA256(secret, key)). Deterministic, so lookup is a single
// indexed query instead of a scan-and-compare.
func HashAPIKey(secret, key string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key))

	return hex.EncodeToString(mac.Sum(nil))
}

// ParseAPIKey extracts the API key from a header value, tolerating a
// Bearer prefix.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, apiKeyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return keyString, nil
}

// MaskKey masks an API key for logging: prefix and last 4 characters of a
// well-formed key, everything otherwise.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	if len(key) == apiKeyLength {
		masked := len(key) - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", masked) + key[len(key)-maskSuffixLen:]
	}

	return strings.Repeat("*", len(key))
}

// SecureCompare performs constant-time comparison of two strings.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Burn comparable time before rejecting.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
