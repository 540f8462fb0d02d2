package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/linetrace-io/linetrace/internal/ingestion"
)

type (
	// P1Record is one extruder-run lot.
	P1Record struct {
		ID             string            `json:"id"`
		TenantID       string            `json:"tenant_id"`
		LotNorm        int64             `json:"lot_no_norm"`
		LotCanonical   string            `json:"lot_no"`
		ProductionDate *time.Time        `json:"production_date"`
		RowData        map[string]string `json:"row_data"`
		CreatedAt      time.Time         `json:"created_at"`
		UpdatedAt      time.Time         `json:"updated_at"`
	}

	// P2Record is one slitting header; its winder rows live in P2Item.
	P2Record struct {
		ID             string            `json:"id"`
		TenantID       string            `json:"tenant_id"`
		LotNorm        int64             `json:"lot_no_norm"`
		LotCanonical   string            `json:"lot_no"`
		ProductionDate *time.Time        `json:"production_date"`
		RowData        map[string]string `json:"row_data"`
		CreatedAt      time.Time         `json:"created_at"`
		UpdatedAt      time.Time         `json:"updated_at"`
	}

	// P2Item is one winder row under a P2 header.
	P2Item struct {
		ID           string            `json:"id"`
		P2RecordID   string            `json:"p2_record_id"`
		TenantID     string            `json:"tenant_id"`
		WinderNumber int               `json:"winder_number"`
		RowData      map[string]string `json:"row_data"`
	}

	// P3Record is one finish-inspection header.
	P3Record struct {
		ID           string    `json:"id"`
		TenantID     string    `json:"tenant_id"`
		LotNorm      int64     `json:"lot_no_norm"`
		LotCanonical string    `json:"lot_no"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}

	// P3Item is one inspection row under a P3 header. ProductID is null
	// when the source row carried none; when present it is unique across
	// the tenant. LotNorm is joined in from the header for read paths.
	P3Item struct {
		ID             string            `json:"id"`
		P3RecordID     string            `json:"p3_record_id"`
		TenantID       string            `json:"tenant_id"`
		LotNorm        int64             `json:"lot_no_norm"`
		RowNo          int               `json:"row_no"`
		ProductID      *string           `json:"product_id"`
		LotNo          string            `json:"lot_no"`
		ProductionDate *time.Time        `json:"production_date"`
		MachineNo      string            `json:"machine_no"`
		MoldNo         string            `json:"mold_no"`
		ProductionLot  string            `json:"production_lot"`
		SourceWinder   *int              `json:"source_winder"`
		Specification  string            `json:"specification"`
		BottomTapeLot  string            `json:"bottom_tape_lot"`
		RowData        map[string]string `json:"row_data"`
	}

	// LotBundle is the find_by_lot result: whatever exists for the lot.
	LotBundle struct {
		P1      *P1Record `json:"p1"`
		P2      *P2Record `json:"p2"`
		P2Items []*P2Item `json:"p2_items"`
		P3      *P3Record `json:"p3"`
		P3Items []*P3Item `json:"p3_items"`
	}
)

// RecordStore persists the P1/P2/P3 record tables. Implements
// ingestion.RecordWriter (commit) and ingestion.LineageStore (advisory
// parent checks).
type RecordStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewRecordStore creates a RecordStore on the shared connection.
func NewRecordStore(conn *Connection, logger *slog.Logger) *RecordStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &RecordStore{conn: conn, logger: logger}
}

// CommitRecords writes one job's commit set in a single transaction.
// Headers are upserted by (tenant, lot_no_norm); item sets are replaced
// wholesale per header. A unique-constraint hit rolls everything back and
// surfaces as *ingestion.UniqueViolationError against the offending row.
func (s *RecordStore) CommitRecords(ctx context.Context, set *ingestion.CommitSet) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call after commit.
	}()

	for _, row := range set.P1 {
		if err := s.upsertP1(ctx, tx, set.TenantID, row); err != nil {
			return err
		}
	}

	for _, commit := range set.P2 {
		if err := s.commitP2(ctx, tx, set.TenantID, commit); err != nil {
			return err
		}
	}

	for _, commit := range set.P3 {
		if err := s.commitP3(ctx, tx, set.TenantID, commit); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}

	s.logger.InfoContext(ctx, "records committed",
		slog.String("tenant_id", set.TenantID),
		slog.String("table_code", string(set.TableCode)),
		slog.Int("p1", len(set.P1)),
		slog.Int("p2", len(set.P2)),
		slog.Int("p3", len(set.P3)),
	)

	return nil
}

func (s *RecordStore) upsertP1(ctx context.Context, tx *sql.Tx, tenantID string, row ingestion.P1Row) error {
	rowData, err := json.Marshal(row.RowData)
	if err != nil {
		return fmt.Errorf("failed to serialize row data: %w", err)
	}

	query := `
		INSERT INTO p1_records (id, tenant_id, lot_no_norm, lot_no, production_date, row_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tenant_id, lot_no_norm) DO UPDATE
		SET lot_no = EXCLUDED.lot_no,
		    production_date = EXCLUDED.production_date,
		    row_data = EXCLUDED.row_data,
		    updated_at = NOW()
	`

	_, err = tx.ExecContext(ctx, query,
		uuid.NewString(), tenantID, row.LotNorm, row.LotCanonical, row.ProductionDate, rowData)
	if err != nil {
		return wrapCommitError(err, row.RowID, row.RowIndex, "Lot No", row.LotCanonical)
	}

	return nil
}

func (s *RecordStore) commitP2(ctx context.Context, tx *sql.Tx, tenantID string, commit ingestion.P2Commit) error {
	headerData, err := json.Marshal(commit.HeaderData)
	if err != nil {
		return fmt.Errorf("failed to serialize header data: %w", err)
	}

	query := `
		INSERT INTO p2_records (id, tenant_id, lot_no_norm, lot_no, production_date, row_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (tenant_id, lot_no_norm) DO UPDATE
		SET lot_no = EXCLUDED.lot_no,
		    production_date = EXCLUDED.production_date,
		    row_data = EXCLUDED.row_data,
		    updated_at = NOW()
		RETURNING id
	`

	var headerID string

	err = tx.QueryRowContext(ctx, query,
		uuid.NewString(), tenantID, commit.LotNorm, commit.LotCanonical,
		commit.ProductionDate, headerData).Scan(&headerID)
	if err != nil {
		return fmt.Errorf("failed to upsert P2 header for lot %s: %w", commit.LotCanonical, err)
	}

	// Replace semantics: a commit for a lot replaces its winder set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM p2_items WHERE p2_record_id = $1`, headerID); err != nil {
		return fmt.Errorf("failed to clear P2 items for lot %s: %w", commit.LotCanonical, err)
	}

	for _, item := range commit.Items {
		rowData, err := json.Marshal(item.RowData)
		if err != nil {
			return fmt.Errorf("failed to serialize row data: %w", err)
		}

		insert := `
			INSERT INTO p2_items (id, p2_record_id, tenant_id, winder_number, row_data)
			VALUES ($1, $2, $3, $4, $5)
		`

		_, err = tx.ExecContext(ctx, insert,
			uuid.NewString(), headerID, tenantID, item.WinderNumber, rowData)
		if err != nil {
			return wrapCommitError(err, item.RowID, item.RowIndex, "winder_number",
				fmt.Sprintf("%d", item.WinderNumber))
		}
	}

	return nil
}

func (s *RecordStore) commitP3(ctx context.Context, tx *sql.Tx, tenantID string, commit ingestion.P3Commit) error {
	query := `
		INSERT INTO p3_records (id, tenant_id, lot_no_norm, lot_no, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (tenant_id, lot_no_norm) DO UPDATE
		SET lot_no = EXCLUDED.lot_no,
		    updated_at = NOW()
		RETURNING id
	`

	var headerID string

	err := tx.QueryRowContext(ctx, query,
		uuid.NewString(), tenantID, commit.LotNorm, commit.LotCanonical).Scan(&headerID)
	if err != nil {
		return fmt.Errorf("failed to upsert P3 header for lot %s: %w", commit.LotCanonical, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM p3_items WHERE p3_record_id = $1`, headerID); err != nil {
		return fmt.Errorf("failed to clear P3 items for lot %s: %w", commit.LotCanonical, err)
	}

	for _, item := range commit.Items {
		rowData, err := json.Marshal(item.RowData)
		if err != nil {
			return fmt.Errorf("failed to serialize row data: %w", err)
		}

		insert := `
			INSERT INTO p3_items (
				id, p3_record_id, tenant_id, row_no, product_id, lot_no, production_date,
				machine_no, mold_no, production_lot, source_winder, specification, bottom_tape_lot, row_data
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`

		_, err = tx.ExecContext(ctx, insert,
			uuid.NewString(), headerID, tenantID, item.RowNo,
			nullableString(item.ProductID), item.LotRaw, item.ProductionDate,
			item.RowData["machine_no"], item.RowData["mold_no"], item.RowData["production_lot"],
			nullableInt(item.SourceWinder), item.RowData["specification"], item.RowData["bottom_tape_lot"],
			rowData)
		if err != nil {
			return wrapCommitError(err, item.RowID, item.RowIndex, "product_id", item.ProductID)
		}
	}

	return nil
}

// wrapCommitError maps a per-row database failure: unique violations
// become row-targeted *ingestion.UniqueViolationError, everything else is
// wrapped as-is.
func wrapCommitError(err error, rowID string, rowIndex int, field, value string) error {
	if _, ok := isUniqueViolation(err); ok {
		return &ingestion.UniqueViolationError{
			RowID:    rowID,
			RowIndex: rowIndex,
			Field:    field,
			Value:    value,
		}
	}

	return fmt.Errorf("failed to write record row %d: %w", rowIndex, err)
}

// P1Exists implements ingestion.LineageStore.
func (s *RecordStore) P1Exists(ctx context.Context, tenantID string, lotNorm int64) (bool, error) {
	return s.lotExists(ctx, "p1_records", tenantID, lotNorm)
}

// P2Exists implements ingestion.LineageStore.
func (s *RecordStore) P2Exists(ctx context.Context, tenantID string, lotNorm int64) (bool, error) {
	return s.lotExists(ctx, "p2_records", tenantID, lotNorm)
}

func (s *RecordStore) lotExists(ctx context.Context, table, tenantID string, lotNorm int64) (bool, error) {
	// table is one of the two fixed record table names above, never input.
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE tenant_id = $1 AND lot_no_norm = $2)`, table)

	var exists bool

	if err := s.conn.QueryRowContext(ctx, query, tenantID, lotNorm).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s for lot %d: %w", table, lotNorm, err)
	}

	return exists, nil
}

// FindByLot loads whatever exists for a lot across the three tables.
// Missing layers are nil, never an error.
func (s *RecordStore) FindByLot(ctx context.Context, tenantID string, lotNorm int64) (*LotBundle, error) {
	bundle := &LotBundle{}

	p1Rows, err := s.FetchP1ByLots(ctx, tenantID, []int64{lotNorm})
	if err != nil {
		return nil, err
	}

	bundle.P1 = p1Rows[lotNorm]

	p2Rows, err := s.FetchP2ByLots(ctx, tenantID, []int64{lotNorm})
	if err != nil {
		return nil, err
	}

	if bundle.P2 = p2Rows[lotNorm]; bundle.P2 != nil {
		items, err := s.FetchP2Items(ctx, []string{bundle.P2.ID})
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			bundle.P2Items = append(bundle.P2Items, item)
		}
	}

	p3Header, p3Items, err := s.fetchP3ByLot(ctx, tenantID, lotNorm)
	if err != nil {
		return nil, err
	}

	bundle.P3 = p3Header
	bundle.P3Items = p3Items

	return bundle, nil
}

// FetchP1ByLots batch-loads P1 records keyed by lot_no_norm.
func (s *RecordStore) FetchP1ByLots(ctx context.Context, tenantID string, lotNorms []int64) (map[int64]*P1Record, error) {
	out := make(map[int64]*P1Record, len(lotNorms))

	if len(lotNorms) == 0 {
		return out, nil
	}

	query := `
		SELECT id, tenant_id, lot_no_norm, lot_no, production_date, row_data, created_at, updated_at
		FROM p1_records
		WHERE tenant_id = $1 AND lot_no_norm = ANY($2)
	`

	rows, err := s.conn.QueryContext(ctx, query, tenantID, pq.Array(lotNorms))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-load P1 records: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			record  P1Record
			rowData []byte
		)

		err := rows.Scan(&record.ID, &record.TenantID, &record.LotNorm, &record.LotCanonical,
			&record.ProductionDate, &rowData, &record.CreatedAt, &record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan P1 record: %w", err)
		}

		if err := json.Unmarshal(rowData, &record.RowData); err != nil {
			return nil, fmt.Errorf("P1 record %s row_data is corrupt: %w", record.ID, err)
		}

		out[record.LotNorm] = &record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating P1 records: %w", err)
	}

	return out, nil
}

// FetchP2ByLots batch-loads P2 headers keyed by lot_no_norm.
func (s *RecordStore) FetchP2ByLots(ctx context.Context, tenantID string, lotNorms []int64) (map[int64]*P2Record, error) {
	out := make(map[int64]*P2Record, len(lotNorms))

	if len(lotNorms) == 0 {
		return out, nil
	}

	query := `
		SELECT id, tenant_id, lot_no_norm, lot_no, production_date, row_data, created_at, updated_at
		FROM p2_records
		WHERE tenant_id = $1 AND lot_no_norm = ANY($2)
	`

	rows, err := s.conn.QueryContext(ctx, query, tenantID, pq.Array(lotNorms))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-load P2 records: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			record  P2Record
			rowData []byte
		)

		err := rows.Scan(&record.ID, &record.TenantID, &record.LotNorm, &record.LotCanonical,
			&record.ProductionDate, &rowData, &record.CreatedAt, &record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan P2 record: %w", err)
		}

		if err := json.Unmarshal(rowData, &record.RowData); err != nil {
			return nil, fmt.Errorf("P2 record %s row_data is corrupt: %w", record.ID, err)
		}

		out[record.LotNorm] = &record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating P2 records: %w", err)
	}

	return out, nil
}

// P2ItemKey addresses one winder row of one P2 header.
type P2ItemKey struct {
	P2RecordID   string
	WinderNumber int
}

// FetchP2Items batch-loads winder rows for a set of P2 headers, keyed by
// (p2_record_id, winder_number).
func (s *RecordStore) FetchP2Items(ctx context.Context, p2RecordIDs []string) (map[P2ItemKey]*P2Item, error) {
	out := make(map[P2ItemKey]*P2Item)

	if len(p2RecordIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT id, p2_record_id, tenant_id, winder_number, row_data
		FROM p2_items
		WHERE p2_record_id = ANY($1)
		ORDER BY winder_number
	`

	rows, err := s.conn.QueryContext(ctx, query, pq.Array(p2RecordIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to batch-load P2 items: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			item    P2Item
			rowData []byte
		)

		err := rows.Scan(&item.ID, &item.P2RecordID, &item.TenantID, &item.WinderNumber, &rowData)
		if err != nil {
			return nil, fmt.Errorf("failed to scan P2 item: %w", err)
		}

		if err := json.Unmarshal(rowData, &item.RowData); err != nil {
			return nil, fmt.Errorf("P2 item %s row_data is corrupt: %w", item.ID, err)
		}

		out[P2ItemKey{P2RecordID: item.P2RecordID, WinderNumber: item.WinderNumber}] = &item
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating P2 items: %w", err)
	}

	return out, nil
}

const p3ItemColumns = `
	i.id, i.p3_record_id, i.tenant_id, r.lot_no_norm, i.row_no, i.product_id, i.lot_no, i.production_date,
	i.machine_no, i.mold_no, i.production_lot, i.source_winder, i.specification, i.bottom_tape_lot, i.row_data
`

// FetchP3ItemsByProductIDs loads P3 items for an explicit product id set,
// ordered for deterministic flattening.
func (s *RecordStore) FetchP3ItemsByProductIDs(ctx context.Context, tenantID string, productIDs []string) ([]*P3Item, error) {
	if len(productIDs) == 0 {
		return []*P3Item{}, nil
	}

	query := `
		SELECT ` + p3ItemColumns + `
		FROM p3_items i
		JOIN p3_records r ON r.id = i.p3_record_id
		WHERE i.tenant_id = $1 AND i.product_id = ANY($2)
		ORDER BY i.production_date ASC NULLS LAST, i.product_id ASC NULLS LAST
	`

	return s.queryP3Items(ctx, query, tenantID, pq.Array(productIDs))
}

// FetchP3ItemsByMonth loads a tenant's P3 items for one calendar month,
// ordered for deterministic flattening.
func (s *RecordStore) FetchP3ItemsByMonth(ctx context.Context, tenantID string, year, month int) ([]*P3Item, error) {
	query := `
		SELECT ` + p3ItemColumns + `
		FROM p3_items i
		JOIN p3_records r ON r.id = i.p3_record_id
		WHERE i.tenant_id = $1
		  AND i.production_date >= make_date($2, $3, 1)
		  AND i.production_date < make_date($2, $3, 1) + INTERVAL '1 month'
		ORDER BY i.production_date ASC, i.product_id ASC NULLS LAST
	`

	return s.queryP3Items(ctx, query, tenantID, year, month)
}

func (s *RecordStore) queryP3Items(ctx context.Context, query string, args ...any) ([]*P3Item, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load P3 items: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	items := []*P3Item{}

	for rows.Next() {
		item, err := scanP3Item(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating P3 items: %w", err)
	}

	return items, nil
}

func scanP3Item(rows *sql.Rows) (*P3Item, error) {
	var (
		item    P3Item
		rowData []byte
	)

	err := rows.Scan(&item.ID, &item.P3RecordID, &item.TenantID, &item.LotNorm, &item.RowNo,
		&item.ProductID, &item.LotNo, &item.ProductionDate,
		&item.MachineNo, &item.MoldNo, &item.ProductionLot, &item.SourceWinder,
		&item.Specification, &item.BottomTapeLot, &rowData)
	if err != nil {
		return nil, fmt.Errorf("failed to scan P3 item: %w", err)
	}

	if err := json.Unmarshal(rowData, &item.RowData); err != nil {
		return nil, fmt.Errorf("P3 item %s row_data is corrupt: %w", item.ID, err)
	}

	return &item, nil
}

// fetchP3ByLot loads the P3 header and its items for one lot.
func (s *RecordStore) fetchP3ByLot(ctx context.Context, tenantID string, lotNorm int64) (*P3Record, []*P3Item, error) {
	query := `
		SELECT id, tenant_id, lot_no_norm, lot_no, created_at, updated_at
		FROM p3_records
		WHERE tenant_id = $1 AND lot_no_norm = $2
	`

	var record P3Record

	err := s.conn.QueryRowContext(ctx, query, tenantID, lotNorm).Scan(
		&record.ID, &record.TenantID, &record.LotNorm, &record.LotCanonical,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}

		return nil, nil, fmt.Errorf("failed to load P3 record: %w", err)
	}

	itemQuery := `
		SELECT ` + p3ItemColumns + `
		FROM p3_items i
		JOIN p3_records r ON r.id = i.p3_record_id
		WHERE i.p3_record_id = $1
		ORDER BY i.row_no
	`

	items, err := s.queryP3Items(ctx, itemQuery, record.ID)
	if err != nil {
		return nil, nil, err
	}

	return &record, items, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}

	return *value
}
