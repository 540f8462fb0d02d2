package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// KeyStore persists tenant API keys. Only the HMAC-SHA256 of a key is
// stored; the raw key exists exactly once, in the Create response.
type KeyStore struct {
	conn   *Connection
	secret string
	logger *slog.Logger
}

// NewKeyStore creates a KeyStore hashing with the configured secret.
func NewKeyStore(conn *Connection, secret string, logger *slog.Logger) *KeyStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &KeyStore{conn: conn, secret: secret, logger: logger}
}

// Create generates, stores, and returns a new raw API key for the tenant.
// The raw key is not recoverable afterwards.
func (s *KeyStore) Create(ctx context.Context, tenantID, label string) (*APIKey, string, error) {
	rawKey, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}

	key := &APIKey{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Label:     label,
		KeyHash:   HashAPIKey(s.secret, rawKey),
		MaskedKey: MaskKey(rawKey),
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}

	query := `
		INSERT INTO api_keys (id, tenant_id, label, key_hash, created_at, active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = s.conn.ExecContext(ctx, query,
		key.ID, key.TenantID, key.Label, key.KeyHash, key.CreatedAt, key.Active)
	if err != nil {
		return nil, "", fmt.Errorf("failed to insert API key: %w", err)
	}

	s.logger.InfoContext(ctx, "API key created",
		slog.String("tenant_id", tenantID),
		slog.String("label", label),
		slog.String("key", key.MaskedKey),
	)

	return key, rawKey, nil
}

// FindByKey resolves a raw API key to its record via a single indexed
// hash lookup. Returns (nil, false) for unknown or inactive keys.
func (s *KeyStore) FindByKey(ctx context.Context, rawKey string) (*APIKey, bool) {
	if rawKey == "" {
		return nil, false
	}

	query := `
		SELECT id, tenant_id, label, key_hash, created_at, last_used_at, active
		FROM api_keys
		WHERE key_hash = $1 AND active = TRUE
	`

	var key APIKey

	err := s.conn.QueryRowContext(ctx, query, HashAPIKey(s.secret, rawKey)).Scan(
		&key.ID, &key.TenantID, &key.Label, &key.KeyHash,
		&key.CreatedAt, &key.LastUsedAt, &key.Active)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.ErrorContext(ctx, "API key lookup failed", slog.String("error", err.Error()))
		}

		return nil, false
	}

	key.MaskedKey = MaskKey(rawKey)

	return &key, true
}

// TouchLastUsed updates last_used_at. Best-effort: failures are logged,
// never surfaced, and never block the authenticated request.
func (s *KeyStore) TouchLastUsed(ctx context.Context, keyID string) {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`

	if _, err := s.conn.ExecContext(ctx, query, keyID); err != nil {
		s.logger.WarnContext(ctx, "failed to update API key last_used_at",
			slog.String("key_id", keyID),
			slog.String("error", err.Error()),
		)
	}
}

// Deactivate performs a soft delete, keeping the row for audit purposes.
func (s *KeyStore) Deactivate(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET active = FALSE WHERE id = $1`

	result, err := s.conn.ExecContext(ctx, query, keyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate API key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// ListByTenant returns the tenant's active keys, newest first, with
// masked key material only.
func (s *KeyStore) ListByTenant(ctx context.Context, tenantID string) ([]*APIKey, error) {
	query := `
		SELECT id, tenant_id, label, created_at, last_used_at, active
		FROM api_keys
		WHERE tenant_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query API keys: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	keys := []*APIKey{}

	for rows.Next() {
		var key APIKey

		err := rows.Scan(&key.ID, &key.TenantID, &key.Label,
			&key.CreatedAt, &key.LastUsedAt, &key.Active)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}

		keys = append(keys, &key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return keys, nil
}
