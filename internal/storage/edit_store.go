package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound indicates the edit target does not exist for the
	// tenant.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidEditTable indicates an edit against an unknown table code.
	ErrInvalidEditTable = errors.New("invalid edit table code")
)

// Editable row_data carriers per table code. Edits touch the JSONB
// payload only; lifted search columns stay commit-authoritative.
var editableTables = map[string]string{
	"P1": "p1_records",
	"P2": "p2_items",
	"P3": "p3_items",
}

// RowEdit is one immutable entry in the inline-edit audit trail.
type RowEdit struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	TableCode string    `json:"table_code"`
	RecordID  string    `json:"record_id"`
	Field     string    `json:"field"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	EditedBy  string    `json:"edited_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ApplyRowEdit updates one row_data field of a committed record and
// appends the change to the audit trail in the same transaction. The
// previous value is captured under a row lock so concurrent edits
// serialize. OldValue on the passed edit is overwritten with the stored
// value.
func (s *RecordStore) ApplyRowEdit(ctx context.Context, edit *RowEdit) error {
	table, ok := editableTables[edit.TableCode]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidEditTable, edit.TableCode)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin edit transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	lockQuery := fmt.Sprintf(`
		SELECT COALESCE(row_data->>$1, '')
		FROM %s
		WHERE id = $2 AND tenant_id = $3
		FOR UPDATE
	`, table)

	err = tx.QueryRowContext(ctx, lockQuery, edit.Field, edit.RecordID, edit.TenantID).Scan(&edit.OldValue)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}

	if err != nil {
		return fmt.Errorf("failed to read current field value: %w", err)
	}

	updateQuery := fmt.Sprintf(`
		UPDATE %s
		SET row_data = jsonb_set(row_data, ARRAY[$1], to_jsonb($2::text), true)
		WHERE id = $3 AND tenant_id = $4
	`, table)

	if _, err := tx.ExecContext(ctx, updateQuery,
		edit.Field, edit.NewValue, edit.RecordID, edit.TenantID); err != nil {
		return fmt.Errorf("failed to apply row edit: %w", err)
	}

	if edit.ID == "" {
		edit.ID = uuid.NewString()
	}

	edit.CreatedAt = time.Now().UTC()

	auditQuery := `
		INSERT INTO row_edits (id, tenant_id, table_code, record_id, field, old_value, new_value, edited_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if _, err := tx.ExecContext(ctx, auditQuery,
		edit.ID, edit.TenantID, edit.TableCode, edit.RecordID,
		edit.Field, edit.OldValue, edit.NewValue, edit.EditedBy, edit.CreatedAt); err != nil {
		return fmt.Errorf("failed to record row edit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit row edit: %w", err)
	}

	return nil
}

// ListRowEdits returns a record's edit history, oldest first.
func (s *RecordStore) ListRowEdits(ctx context.Context, tenantID, recordID string) ([]*RowEdit, error) {
	query := `
		SELECT id, tenant_id, table_code, record_id, field, old_value, new_value, edited_by, created_at
		FROM row_edits
		WHERE tenant_id = $1 AND record_id = $2
		ORDER BY created_at
	`

	rows, err := s.conn.QueryContext(ctx, query, tenantID, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to query row edits: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	edits := []*RowEdit{}

	for rows.Next() {
		var edit RowEdit

		err := rows.Scan(&edit.ID, &edit.TenantID, &edit.TableCode, &edit.RecordID,
			&edit.Field, &edit.OldValue, &edit.NewValue, &edit.EditedBy, &edit.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row edit: %w", err)
		}

		edits = append(edits, &edit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating row edits: %w", err)
	}

	return edits, nil
}
