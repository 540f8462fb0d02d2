package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const optionsCap = 1000

// SearchFilters is the advanced-search filter set. String filters are
// already normalized by the caller (lot input is canonicalized before
// matching); empty values mean "no filter".
type SearchFilters struct {
	LotPattern       string // substring match on canonical lot_no
	DateFrom         *time.Time
	DateTo           *time.Time
	MachineNo        string
	MoldNo           string
	Specification    string
	BottomTapeLot    string
	ProductIDPattern string // substring match
	WinderNumber     *int
}

// ErrUnknownOptionField indicates an options enumeration request for a
// field that has no enumeration.
var ErrUnknownOptionField = fmt.Errorf("unknown options field")

// QueryStore serves the read-side search surface over the record tables.
type QueryStore struct {
	conn *Connection
}

// NewQueryStore creates a QueryStore on the shared connection.
func NewQueryStore(conn *Connection) *QueryStore {
	return &QueryStore{conn: conn}
}

// whereBuilder accumulates AND conditions with positional args.
type whereBuilder struct {
	conditions []string
	args       []any
}

func (b *whereBuilder) clause() string {
	if len(b.conditions) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(b.conditions, " AND ")
}

func newWhere() *whereBuilder {
	return &whereBuilder{}
}

// next registers one arg and returns its placeholder.
func (b *whereBuilder) next(arg any) string {
	b.args = append(b.args, arg)

	return fmt.Sprintf("$%d", len(b.args))
}

func (b *whereBuilder) cond(format string, args ...any) {
	placeholders := make([]any, len(args))
	for i, arg := range args {
		placeholders[i] = b.next(arg)
	}

	b.conditions = append(b.conditions, fmt.Sprintf(format, placeholders...))
}

// SearchP1 pages through P1 records matching the filters, newest
// production date first. Returns the page and the total match count.
func (s *QueryStore) SearchP1(
	ctx context.Context,
	tenantID string,
	filters SearchFilters,
	limit, offset int,
) ([]*P1Record, int, error) {
	where := newWhere()
	where.cond("tenant_id = %s", tenantID)

	if filters.LotPattern != "" {
		where.cond("lot_no ILIKE %s", "%"+filters.LotPattern+"%")
	}

	if filters.DateFrom != nil {
		where.cond("production_date >= %s", *filters.DateFrom)
	}

	if filters.DateTo != nil {
		where.cond("production_date <= %s", *filters.DateTo)
	}

	if filters.MachineNo != "" {
		where.cond("row_data->>'machine_no' = %s", filters.MachineNo)
	}

	countQuery := `SELECT COUNT(*) FROM p1_records ` + where.clause()

	var total int

	if err := s.conn.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count P1 search results: %w", err)
	}

	query := `
		SELECT id, tenant_id, lot_no_norm, lot_no, production_date, row_data, created_at, updated_at
		FROM p1_records
		` + where.clause() + `
		ORDER BY production_date DESC NULLS LAST, lot_no_norm DESC
		LIMIT ` + where.next(limit) + ` OFFSET ` + where.next(offset)

	rows, err := s.conn.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search P1 records: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	records := []*P1Record{}

	for rows.Next() {
		record, err := scanLotRecord(rows)
		if err != nil {
			return nil, 0, err
		}

		records = append(records, &P1Record{
			ID: record.ID, TenantID: record.TenantID, LotNorm: record.LotNorm,
			LotCanonical: record.LotCanonical, ProductionDate: record.ProductionDate,
			RowData: record.RowData, CreatedAt: record.CreatedAt, UpdatedAt: record.UpdatedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating P1 search results: %w", err)
	}

	return records, total, nil
}

// SearchP2 pages through P2 headers matching the filters. A winder
// filter narrows to headers that carry that winder; the caller selects
// the single item from the loaded item set.
func (s *QueryStore) SearchP2(
	ctx context.Context,
	tenantID string,
	filters SearchFilters,
	limit, offset int,
) ([]*P2Record, int, error) {
	where := newWhere()
	where.cond("tenant_id = %s", tenantID)

	if filters.LotPattern != "" {
		where.cond("lot_no ILIKE %s", "%"+filters.LotPattern+"%")
	}

	if filters.DateFrom != nil {
		where.cond("production_date >= %s", *filters.DateFrom)
	}

	if filters.DateTo != nil {
		where.cond("production_date <= %s", *filters.DateTo)
	}

	if filters.WinderNumber != nil {
		where.cond("EXISTS (SELECT 1 FROM p2_items i WHERE i.p2_record_id = p2_records.id AND i.winder_number = %s)",
			*filters.WinderNumber)
	}

	countQuery := `SELECT COUNT(*) FROM p2_records ` + where.clause()

	var total int

	if err := s.conn.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count P2 search results: %w", err)
	}

	query := `
		SELECT id, tenant_id, lot_no_norm, lot_no, production_date, row_data, created_at, updated_at
		FROM p2_records
		` + where.clause() + `
		ORDER BY production_date DESC NULLS LAST, lot_no_norm DESC
		LIMIT ` + where.next(limit) + ` OFFSET ` + where.next(offset)

	rows, err := s.conn.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search P2 records: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	records := []*P2Record{}

	for rows.Next() {
		record, err := scanLotRecord(rows)
		if err != nil {
			return nil, 0, err
		}

		records = append(records, &P2Record{
			ID: record.ID, TenantID: record.TenantID, LotNorm: record.LotNorm,
			LotCanonical: record.LotCanonical, ProductionDate: record.ProductionDate,
			RowData: record.RowData, CreatedAt: record.CreatedAt, UpdatedAt: record.UpdatedAt,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating P2 search results: %w", err)
	}

	return records, total, nil
}

// SearchP3Items pages through P3 items matching the filters, joined to
// their header for lot scoping.
func (s *QueryStore) SearchP3Items(
	ctx context.Context,
	tenantID string,
	filters SearchFilters,
	limit, offset int,
) ([]*P3Item, int, error) {
	where := newWhere()
	where.cond("i.tenant_id = %s", tenantID)

	if filters.LotPattern != "" {
		where.cond("r.lot_no ILIKE %s", "%"+filters.LotPattern+"%")
	}

	if filters.DateFrom != nil {
		where.cond("i.production_date >= %s", *filters.DateFrom)
	}

	if filters.DateTo != nil {
		where.cond("i.production_date <= %s", *filters.DateTo)
	}

	if filters.MachineNo != "" {
		where.cond("i.machine_no = %s", filters.MachineNo)
	}

	if filters.MoldNo != "" {
		where.cond("i.mold_no = %s", filters.MoldNo)
	}

	if filters.Specification != "" {
		where.cond("i.specification = %s", filters.Specification)
	}

	if filters.BottomTapeLot != "" {
		where.cond("i.bottom_tape_lot = %s", filters.BottomTapeLot)
	}

	if filters.ProductIDPattern != "" {
		where.cond("i.product_id ILIKE %s", "%"+filters.ProductIDPattern+"%")
	}

	if filters.WinderNumber != nil {
		where.cond("i.source_winder = %s", *filters.WinderNumber)
	}

	from := `FROM p3_items i JOIN p3_records r ON r.id = i.p3_record_id`

	countQuery := `SELECT COUNT(*) ` + from + ` ` + where.clause()

	var total int

	if err := s.conn.QueryRowContext(ctx, countQuery, where.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count P3 search results: %w", err)
	}

	query := `
		SELECT ` + p3ItemColumns + `
		` + from + `
		` + where.clause() + `
		ORDER BY i.production_date DESC NULLS LAST, i.product_id ASC NULLS LAST
		LIMIT ` + where.next(limit) + ` OFFSET ` + where.next(offset)

	rows, err := s.conn.QueryContext(ctx, query, where.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search P3 items: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	items := []*P3Item{}

	for rows.Next() {
		item, err := scanP3Item(rows)
		if err != nil {
			return nil, 0, err
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating P3 search results: %w", err)
	}

	return items, total, nil
}

// LotSuggestions returns distinct canonical lot numbers matching the
// pattern across all three record tables, sorted, capped at limit.
func (s *QueryStore) LotSuggestions(ctx context.Context, tenantID, pattern string, limit int) ([]string, error) {
	if limit < 1 || limit > optionsCap {
		limit = optionsCap
	}

	query := `
		SELECT DISTINCT lot_no FROM (
			SELECT lot_no FROM p1_records WHERE tenant_id = $1 AND lot_no ILIKE $2
			UNION ALL
			SELECT lot_no FROM p2_records WHERE tenant_id = $1 AND lot_no ILIKE $2
			UNION ALL
			SELECT lot_no FROM p3_records WHERE tenant_id = $1 AND lot_no ILIKE $2
		) lots
		ORDER BY lot_no
		LIMIT $3
	`

	return s.stringList(ctx, query, tenantID, "%"+pattern+"%", limit)
}

// Options returns the tenant's distinct values for an enumerable field,
// sorted lexicographically, capped at 1000.
func (s *QueryStore) Options(ctx context.Context, tenantID, field string) ([]string, error) {
	var query string

	switch field {
	case "machine_no":
		query = `SELECT DISTINCT machine_no FROM p3_items WHERE tenant_id = $1 AND machine_no <> '' ORDER BY machine_no LIMIT $2`
	case "mold_no":
		query = `SELECT DISTINCT mold_no FROM p3_items WHERE tenant_id = $1 AND mold_no <> '' ORDER BY mold_no LIMIT $2`
	case "specification":
		query = `SELECT DISTINCT specification FROM p3_items WHERE tenant_id = $1 AND specification <> '' ORDER BY specification LIMIT $2`
	case "bottom_tape_lot":
		query = `SELECT DISTINCT bottom_tape_lot FROM p3_items WHERE tenant_id = $1 AND bottom_tape_lot <> '' ORDER BY bottom_tape_lot LIMIT $2`
	case "winder_number":
		query = `SELECT DISTINCT winder_number::text FROM p2_items WHERE tenant_id = $1 ORDER BY winder_number::text LIMIT $2`
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptionField, field)
	}

	return s.stringList(ctx, query, tenantID, optionsCap)
}

func (s *QueryStore) stringList(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query values: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	values := []string{}

	for rows.Next() {
		var value string

		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}

		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating values: %w", err)
	}

	return values, nil
}

// lotRecord is the shared header shape of p1_records and p2_records.
type lotRecord = P1Record

func scanLotRecord(rows interface{ Scan(...any) error }) (*lotRecord, error) {
	var (
		record  lotRecord
		rowData []byte
	)

	err := rows.Scan(&record.ID, &record.TenantID, &record.LotNorm, &record.LotCanonical,
		&record.ProductionDate, &rowData, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if err := json.Unmarshal(rowData, &record.RowData); err != nil {
		return nil, fmt.Errorf("record %s row_data is corrupt: %w", record.ID, err)
	}

	return &record, nil
}
