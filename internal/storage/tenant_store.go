package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TenantStore persists tenants. Tenant codes are unique; at most one
// tenant is flagged as the default.
type TenantStore struct {
	conn *Connection
}

// NewTenantStore creates a TenantStore on the shared connection.
func NewTenantStore(conn *Connection) *TenantStore {
	return &TenantStore{conn: conn}
}

// Create inserts a tenant. Returns ErrTenantExists when the code is
// taken and ErrDefaultTenantExists when another tenant already carries
// the default flag.
func (s *TenantStore) Create(ctx context.Context, tenant *Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}

	settingsJSON, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("failed to serialize tenant settings: %w", err)
	}

	now := time.Now().UTC()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now

	query := `
		INSERT INTO tenants (id, code, name, is_default, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.conn.ExecContext(ctx, query,
		tenant.ID, tenant.Code, tenant.Name, tenant.IsDefault, settingsJSON, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			if constraint == "idx_tenants_single_default" {
				return fmt.Errorf("%w: refusing %q", ErrDefaultTenantExists, tenant.Code)
			}

			return fmt.Errorf("%w: code %q", ErrTenantExists, tenant.Code)
		}

		return fmt.Errorf("failed to insert tenant: %w", err)
	}

	return nil
}

// GetByID returns the tenant, or ErrTenantNotFound.
func (s *TenantStore) GetByID(ctx context.Context, tenantID string) (*Tenant, error) {
	return s.get(ctx, "id = $1", tenantID)
}

// GetByCode returns the tenant with the code, or ErrTenantNotFound.
func (s *TenantStore) GetByCode(ctx context.Context, code string) (*Tenant, error) {
	return s.get(ctx, "code = $1", code)
}

func (s *TenantStore) get(ctx context.Context, where string, arg any) (*Tenant, error) {
	query := `
		SELECT id, code, name, is_default, settings, created_at, updated_at
		FROM tenants
		WHERE ` + where

	var (
		tenant       Tenant
		settingsJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, arg).Scan(
		&tenant.ID, &tenant.Code, &tenant.Name, &tenant.IsDefault,
		&settingsJSON, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTenantNotFound
		}

		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}

	tenant.Settings, err = ParseTenantSettings(settingsJSON)
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

// List returns all tenants ordered by code.
func (s *TenantStore) List(ctx context.Context) ([]*Tenant, error) {
	query := `
		SELECT id, code, name, is_default, settings, created_at, updated_at
		FROM tenants
		ORDER BY code
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	tenants := []*Tenant{}

	for rows.Next() {
		var (
			tenant       Tenant
			settingsJSON []byte
		)

		err := rows.Scan(&tenant.ID, &tenant.Code, &tenant.Name, &tenant.IsDefault,
			&settingsJSON, &tenant.CreatedAt, &tenant.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}

		tenant.Settings, err = ParseTenantSettings(settingsJSON)
		if err != nil {
			return nil, err
		}

		tenants = append(tenants, &tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// LineageChecksEnabled implements ingestion.TenantSettings.
func (s *TenantStore) LineageChecksEnabled(ctx context.Context, tenantID string) (bool, error) {
	tenant, err := s.GetByID(ctx, tenantID)
	if err != nil {
		return false, err
	}

	return tenant.Settings.LineageChecks, nil
}
