package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/linetrace-io/linetrace/internal/config"
)

const (
	defaultPoolSize        = 10
	defaultMaxOverflow     = 20
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultStagingTTL      = 7 * 24 * time.Hour
	defaultUploadTempDir   = "/tmp/linetrace-uploads"
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrHMACSecretEmpty is returned when no API-key HMAC secret is configured.
	ErrHMACSecretEmpty = errors.New("API key HMAC secret cannot be empty")
)

// Config holds PostgreSQL connection configuration plus the storage-side
// policy knobs (staging retention, upload blob directory, key hashing).
type Config struct {
	databaseURL string
	hmacSecret  string

	PoolSize        int           // base connections held open
	MaxOverflow     int           // extra connections under burst
	ConnMaxLifetime time.Duration // maximum lifetime of connections
	ConnMaxIdleTime time.Duration // maximum idle time for connections

	StagingTTL    time.Duration // staging-row retention after a terminal status
	UploadTempDir string        // filesystem root for uploaded file blobs
}

// LoadConfig loads storage configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""), // private: never logged raw
		hmacSecret:      config.GetEnvStr("AUTH_HMAC_SECRET", ""),
		PoolSize:        config.GetEnvInt("DB_POOL_SIZE", defaultPoolSize),
		MaxOverflow:     config.GetEnvInt("DB_MAX_OVERFLOW", defaultMaxOverflow),
		ConnMaxLifetime: config.GetEnvDuration("DB_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DB_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
		StagingTTL:      config.GetEnvDuration("STAGING_TTL", defaultStagingTTL),
		UploadTempDir:   config.GetEnvStr("UPLOAD_TEMP_DIR", defaultUploadTempDir),
	}
}

// Validate checks if the storage configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if strings.TrimSpace(c.hmacSecret) == "" {
		return ErrHMACSecretEmpty
	}

	return nil
}

// HMACSecret returns the configured API-key HMAC secret.
func (c *Config) HMACSecret() string {
	return c.hmacSecret
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		// No userinfo to mask.
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		return c.databaseURL
	}

	username := userInfo[:colonIndex]
	password := userInfo[colonIndex+1:]

	if password == "" {
		return c.databaseURL
	}

	scheme := c.databaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAtIndex:]

	return scheme + "://" + username + ":***" + hostAndRest
}
