package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linetrace-io/linetrace/internal/schema"
)

// SchemaStore persists schema versions. Implements schema.Store for the
// registry's read-through cache.
type SchemaStore struct {
	conn *Connection
}

// NewSchemaStore creates a SchemaStore on the shared connection.
func NewSchemaStore(conn *Connection) *SchemaStore {
	return &SchemaStore{conn: conn}
}

// FindVersion returns the schema version registered for the fingerprint,
// or (nil, nil) when none exists.
func (s *SchemaStore) FindVersion(ctx context.Context, tenantID, tableCode, fingerprint string) (*schema.Version, error) {
	query := `
		SELECT id, tenant_id, table_code, schema_hash, header_fingerprint, definition, created_at
		FROM schema_versions
		WHERE tenant_id = $1 AND table_code = $2 AND header_fingerprint = $3
	`

	var (
		version        schema.Version
		definitionJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, tenantID, tableCode, fingerprint).Scan(
		&version.ID, &version.TenantID, &version.TableCode, &version.SchemaHash,
		&version.HeaderFingerprint, &definitionJSON, &version.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to load schema version: %w", err)
	}

	definition, err := schema.ParseDefinition(definitionJSON)
	if err != nil {
		return nil, fmt.Errorf("schema version %s is corrupt: %w", version.ID, err)
	}

	version.Definition = definition

	return &version, nil
}

// RegisterVersion stores a new schema version for a header fingerprint.
// Registration is an admin operation; versions are immutable once written.
func (s *SchemaStore) RegisterVersion(
	ctx context.Context,
	tenantID, tableCode, fingerprint string,
	definition *schema.Definition,
) (*schema.Version, error) {
	definitionJSON, err := json.Marshal(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schema definition: %w", err)
	}

	digest := sha256.Sum256(definitionJSON)

	version := &schema.Version{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		TableCode:         tableCode,
		SchemaHash:        hex.EncodeToString(digest[:]),
		HeaderFingerprint: fingerprint,
		Definition:        definition,
		CreatedAt:         time.Now().UTC(),
	}

	query := `
		INSERT INTO schema_versions (id, tenant_id, table_code, schema_hash, header_fingerprint, definition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.conn.ExecContext(ctx, query,
		version.ID, version.TenantID, version.TableCode, version.SchemaHash,
		version.HeaderFingerprint, definitionJSON, version.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert schema version: %w", err)
	}

	return version, nil
}
