package api

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, key := range []string{
		"SERVER_PORT", "SERVER_HOST", "SERVER_READ_TIMEOUT", "SERVER_WRITE_TIMEOUT",
		"SERVER_SHUTDOWN_TIMEOUT", "LOG_LEVEL", "MAX_UPLOAD_SIZE_MB",
		"CORS_ALLOWED_ORIGINS", "CORS_ALLOWED_METHODS", "CORS_ALLOWED_HEADERS", "CORS_MAX_AGE",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadServerConfig()

	assert.Equal(t, defaultPort, cfg.Port)
	assert.Equal(t, defaultHost, cfg.Host)
	assert.Equal(t, defaultTimeout, cfg.ReadTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, defaultMaxUploadSizeMB, cfg.MaxUploadSizeMB)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Contains(t, cfg.CORSAllowedHeaders, "X-API-Key")
	assert.Contains(t, cfg.CORSAllowedHeaders, "X-Admin-API-Key")

	require.NoError(t, cfg.Validate())
}

func TestLoadServerConfigFromEnvironment(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_HOST", "127.0.0.1")
	t.Setenv("SERVER_READ_TIMEOUT", "45s")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "25")

	cfg := LoadServerConfig()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 45*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 25, cfg.MaxUploadSizeMB)
	assert.Equal(t, int64(25<<20), cfg.MaxUploadBytes())
}

func TestServerConfigValidate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{
			name:   "valid defaults",
			mutate: func(_ *ServerConfig) {},
		},
		{
			name:    "port zero",
			mutate:  func(c *ServerConfig) { c.Port = 0 },
			wantErr: ErrInvalidPort,
		},
		{
			name:    "port above range",
			mutate:  func(c *ServerConfig) { c.Port = 70000 },
			wantErr: ErrInvalidPort,
		},
		{
			name:    "empty host",
			mutate:  func(c *ServerConfig) { c.Host = "" },
			wantErr: ErrEmptyHost,
		},
		{
			name:    "negative read timeout",
			mutate:  func(c *ServerConfig) { c.ReadTimeout = -time.Second },
			wantErr: ErrInvalidTimeout,
		},
		{
			name:    "zero upload cap",
			mutate:  func(c *ServerConfig) { c.MaxUploadSizeMB = 0 },
			wantErr: ErrInvalidUploadSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{
				Port:            defaultPort,
				Host:            defaultHost,
				ReadTimeout:     defaultTimeout,
				WriteTimeout:    defaultTimeout,
				ShutdownTimeout: defaultTimeout,
				MaxUploadSizeMB: defaultMaxUploadSizeMB,
			}
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
