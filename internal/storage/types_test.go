package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerateAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	if !strings.HasPrefix(key, apiKeyPrefix) {
		t.Errorf("GenerateAPIKey() = %q, want %q prefix", key, apiKeyPrefix)
	}

	if len(key) != apiKeyLength {
		t.Errorf("GenerateAPIKey() length = %d, want %d", len(key), apiKeyLength)
	}

	second, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	if key == second {
		t.Error("GenerateAPIKey() produced the same key twice")
	}
}

func TestHashAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	hash := HashAPIKey("secret", "lt_ak_abc")

	if len(hash) != 64 {
		t.Errorf("HashAPIKey() length = %d, want 64 hex chars", len(hash))
	}

	if hash != HashAPIKey("secret", "lt_ak_abc") {
		t.Error("HashAPIKey() is not deterministic")
	}

	if hash == HashAPIKey("other-secret", "lt_ak_abc") {
		t.Error("HashAPIKey() ignores the secret")
	}

	if hash == HashAPIKey("secret", "lt_ak_abd") {
		t.Error("HashAPIKey() ignores the key")
	}
}

func TestParseAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	validKey := apiKeyPrefix + strings.Repeat("ab", randomBytesSize)

	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  error
	}{
		{
			name:     "valid key",
			input:    validKey,
			expected: validKey,
		},
		{
			name:     "valid key with Bearer prefix",
			input:    "Bearer " + validKey,
			expected: validKey,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: ErrKeyStringEmpty,
		},
		{
			name:    "wrong prefix",
			input:   "sk_live_" + strings.Repeat("ab", randomBytesSize),
			wantErr: ErrInvalidKeyFormat,
		},
		{
			name:    "truncated key",
			input:   apiKeyPrefix + "abcd",
			wantErr: ErrInvalidKeyLength,
		},
		{
			name:    "overlong key",
			input:   validKey + "ff",
			wantErr: ErrInvalidKeyLength,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAPIKey(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseAPIKey(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}

			if got != tt.expected {
				t.Errorf("ParseAPIKey(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestMaskKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	validKey := apiKeyPrefix + strings.Repeat("ab", randomBytesSize)

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "well-formed key shows prefix and suffix",
			key:      validKey,
			expected: validKey[:maskPrefixLen] + strings.Repeat("*", apiKeyLength-maskPrefixLen-maskSuffixLen) + validKey[apiKeyLength-maskSuffixLen:],
		},
		{
			name:     "malformed key fully masked",
			key:      "short-key",
			expected: "*********",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskKey(tt.key); got != tt.expected {
				t.Errorf("MaskKey(%q) = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		a        string
		b        string
		expected bool
	}{
		{name: "equal strings", a: "lt_ak_same", b: "lt_ak_same", expected: true},
		{name: "different strings same length", a: "lt_ak_aaaa", b: "lt_ak_bbbb", expected: false},
		{name: "different lengths", a: "short", b: "much-longer-value", expected: false},
		{name: "both empty", a: "", b: "", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SecureCompare(tt.a, tt.b); got != tt.expected {
				t.Errorf("SecureCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}

func TestParseTenantSettings(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		raw      string
		expected TenantSettings
		wantErr  bool
	}{
		{
			name:     "full settings",
			raw:      `{"lineage_checks": true, "flatten_output_map": "wide"}`,
			expected: TenantSettings{LineageChecks: true, FlattenOutputMap: "wide"},
		},
		{
			name:     "empty object",
			raw:      `{}`,
			expected: TenantSettings{},
		},
		{
			name:     "null payload",
			raw:      "",
			expected: TenantSettings{},
		},
		{
			name:    "malformed payload",
			raw:     `{"lineage_checks":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTenantSettings([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTenantSettings() error = %v, wantErr %v", err, tt.wantErr)
			}

			if got != tt.expected {
				t.Errorf("ParseTenantSettings() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}
