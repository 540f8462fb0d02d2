// Package api provides the HTTP API server for the LineTrace service.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linetrace-io/linetrace/internal/config"
)

const (
	defaultPort            = 8080
	maxPort                = 65535
	defaultHost            = "0.0.0.0"
	defaultCORSMaxAge      = 86400
	defaultTimeout         = 30 * time.Second
	defaultLogLevel        = slog.LevelInfo
	defaultMaxUploadSizeMB = 10
)

var (
	// ErrInvalidPort indicates the port number is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidTimeout indicates a zero or negative server timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")

	// ErrInvalidUploadSize indicates a zero or negative upload size cap.
	ErrInvalidUploadSize = errors.New("max upload size must be positive")
)

type (
	// ServerConfig holds HTTP server configuration. Pure configuration,
	// no runtime dependencies.
	ServerConfig struct {
		Port            int
		Host            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		LogLevel        slog.Level

		// MaxUploadSizeMB caps each uploaded file. A file exactly at the
		// cap is accepted; one byte over is rejected.
		MaxUploadSizeMB int

		CORSAllowedOrigins []string
		CORSAllowedMethods []string
		CORSAllowedHeaders []string
		CORSMaxAge         int
	}

	// CORSConfig is the concrete middleware.CORSConfig implementation.
	CORSConfig struct {
		AllowedOrigins []string
		AllowedMethods []string
		AllowedHeaders []string
		MaxAge         int
	}
)

// LoadServerConfig loads server configuration from environment variables
// with sensible defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("SERVER_PORT", defaultPort),
		Host:            config.GetEnvStr("SERVER_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("SERVER_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("SERVER_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("SERVER_SHUTDOWN_TIMEOUT", defaultTimeout),
		LogLevel:        config.GetEnvLogLevel("LOG_LEVEL", defaultLogLevel),
		MaxUploadSizeMB: config.GetEnvInt("MAX_UPLOAD_SIZE_MB", defaultMaxUploadSizeMB),
		CORSAllowedOrigins: config.ParseCommaSeparatedList(
			config.GetEnvStr("CORS_ALLOWED_ORIGINS", "*"),
		), // development default; restrict in production
		CORSAllowedMethods: config.ParseCommaSeparatedList(
			config.GetEnvStr("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
		),
		CORSAllowedHeaders: config.ParseCommaSeparatedList(
			config.GetEnvStr("CORS_ALLOWED_HEADERS",
				"Content-Type,Authorization,X-Correlation-ID,X-API-Key,X-Admin-API-Key"),
		),
		CORSMaxAge: config.GetEnvInt("CORS_MAX_AGE", defaultCORSMaxAge),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxUploadBytes returns the per-file upload cap in bytes.
func (c *ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) << 20
}

// ToCORSConfig converts the CORS fields to the middleware interface.
func (c *ServerConfig) ToCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		MaxAge:         c.CORSMaxAge,
	}
}

// GetAllowedOrigins returns the allowed origins for CORS.
func (c *CORSConfig) GetAllowedOrigins() []string { return c.AllowedOrigins }

// GetAllowedMethods returns the allowed methods for CORS.
func (c *CORSConfig) GetAllowedMethods() []string { return c.AllowedMethods }

// GetAllowedHeaders returns the allowed headers for CORS.
func (c *CORSConfig) GetAllowedHeaders() []string { return c.AllowedHeaders }

// GetMaxAge returns the CORS preflight cache age.
func (c *CORSConfig) GetMaxAge() int { return c.MaxAge }

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: read=%v write=%v shutdown=%v",
			ErrInvalidTimeout, c.ReadTimeout, c.WriteTimeout, c.ShutdownTimeout)
	}

	if c.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("%w: got %d MB", ErrInvalidUploadSize, c.MaxUploadSizeMB)
	}

	return nil
}
