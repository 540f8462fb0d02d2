// Package flatten produces the wide traceability rows: one flat row per
// P3 item, joined with its P2 winder and its P1 lot. The flattener is
// stateless; every request builds its own join maps, so it is safe
// under unbounded parallel callers up to the database pool capacity.
package flatten

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linetrace-io/linetrace/internal/storage"
)

// Result size policy. Responses over the gzip threshold are compressed;
// over the forced threshold the client is warned to narrow the query;
// over the hard cap the request is rejected.
const (
	MaxProductIDs        = 500
	DefaultGzipThreshold = 200
	ForcedGzipThreshold  = 1500
	HardRowCap           = 3000
)

const dateLayout = "2006-01-02"

var (
	// ErrResultTooLarge indicates the result exceeds the hard row cap.
	ErrResultTooLarge = errors.New("flatten result too large")

	// ErrTooManyProductIDs indicates more than MaxProductIDs ids were requested.
	ErrTooManyProductIDs = errors.New("too many product ids")

	// ErrInvalidMonth indicates a month outside 1..12 or a non-positive year.
	ErrInvalidMonth = errors.New("invalid year/month")

	// ErrUnknownProfile indicates a tenant names an output map that is
	// not registered.
	ErrUnknownProfile = errors.New("unknown output map profile")
)

type (
	// Store is the batched read surface the flattener joins over.
	// Implemented by storage.RecordStore.
	Store interface {
		FetchP3ItemsByProductIDs(ctx context.Context, tenantID string, productIDs []string) ([]*storage.P3Item, error)
		FetchP3ItemsByMonth(ctx context.Context, tenantID string, year, month int) ([]*storage.P3Item, error)
		FetchP1ByLots(ctx context.Context, tenantID string, lotNorms []int64) (map[int64]*storage.P1Record, error)
		FetchP2ByLots(ctx context.Context, tenantID string, lotNorms []int64) (map[int64]*storage.P2Record, error)
		FetchP2Items(ctx context.Context, p2RecordIDs []string) (map[storage.P2ItemKey]*storage.P2Item, error)
	}

	// FlatRow is one output row. Every configured column is present;
	// fields missing on the source side are explicit nulls.
	FlatRow map[string]any

	// Metadata echoes the query and documents the response shape.
	Metadata struct {
		QueryType          string   `json:"query_type"`
		Year               int      `json:"year,omitempty"`
		Month              int      `json:"month,omitempty"`
		ProductIDs         []string `json:"product_ids,omitempty"`
		Profile            string   `json:"profile"`
		Columns            []string `json:"columns"`
		Compression        string   `json:"compression"`
		NullHandling       string   `json:"null_handling"`
		EmptyArrayHandling string   `json:"empty_array_handling"`
		Warning            string   `json:"warning,omitempty"`
	}

	// Result is the flatten response envelope.
	Result struct {
		Data     []FlatRow `json:"data"`
		Count    int       `json:"count"`
		HasData  bool      `json:"has_data"`
		Metadata Metadata  `json:"metadata"`
	}

	// Caps is the policy echo for the health endpoint.
	Caps struct {
		MaxProductIDs       int `json:"max_product_ids"`
		GzipThreshold       int `json:"gzip_threshold"`
		ForcedGzipThreshold int `json:"forced_gzip_threshold"`
		HardRowCap          int `json:"hard_row_cap"`
	}

	// Config assembles a Flattener.
	Config struct {
		Store         Store
		GzipThreshold int // 0 selects DefaultGzipThreshold
		WarnThreshold int // 0 selects ForcedGzipThreshold; hard cap is twice this
		Profiles      []*OutputMap
		Logger        *slog.Logger
	}

	// Flattener runs the batched P3→P2→P1 join.
	Flattener struct {
		store         Store
		gzipThreshold int
		warnThreshold int
		hardRowCap    int
		profiles      map[string]*OutputMap
		logger        *slog.Logger
	}
)

// New creates a Flattener with the default output map plus any
// configured profiles.
func New(cfg Config) *Flattener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	threshold := cfg.GzipThreshold
	if threshold <= 0 {
		threshold = DefaultGzipThreshold
	}

	warnThreshold := cfg.WarnThreshold
	if warnThreshold <= 0 {
		warnThreshold = ForcedGzipThreshold
	}

	profiles := map[string]*OutputMap{}

	defaultMap := DefaultOutputMap()
	profiles[defaultMap.Name] = defaultMap

	for _, profile := range cfg.Profiles {
		profiles[profile.Name] = profile
	}

	return &Flattener{
		store:         cfg.Store,
		gzipThreshold: threshold,
		warnThreshold: warnThreshold,
		hardRowCap:    warnThreshold * 2,
		profiles:      profiles,
		logger:        logger,
	}
}

// Caps reports the active result-size policy.
func (f *Flattener) Caps() Caps {
	return Caps{
		MaxProductIDs:       MaxProductIDs,
		GzipThreshold:       f.gzipThreshold,
		ForcedGzipThreshold: f.warnThreshold,
		HardRowCap:          f.hardRowCap,
	}
}

// ByProducts flattens the P3 items with the given product ids. An empty
// id list is a valid boundary and yields an empty result.
func (f *Flattener) ByProducts(ctx context.Context, tenantID, profile string, productIDs []string) (*Result, error) {
	if len(productIDs) > MaxProductIDs {
		return nil, fmt.Errorf("%w: %d ids, maximum %d", ErrTooManyProductIDs, len(productIDs), MaxProductIDs)
	}

	outputMap, err := f.resolveProfile(profile)
	if err != nil {
		return nil, err
	}

	if len(productIDs) == 0 {
		return f.finish([]FlatRow{}, Metadata{
			QueryType: "product_ids",
			Profile:   outputMap.Name,
			Columns:   outputMap.ColumnNames(),
		})
	}

	items, err := f.store.FetchP3ItemsByProductIDs(ctx, tenantID, productIDs)
	if err != nil {
		return nil, err
	}

	rows, err := f.flatten(ctx, tenantID, items, outputMap)
	if err != nil {
		return nil, err
	}

	return f.finish(rows, Metadata{
		QueryType:  "product_ids",
		ProductIDs: productIDs,
		Profile:    outputMap.Name,
		Columns:    outputMap.ColumnNames(),
	})
}

// ByMonth flattens all P3 items of one calendar month.
func (f *Flattener) ByMonth(ctx context.Context, tenantID, profile string, year, month int) (*Result, error) {
	if year < 1 || month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidMonth, year, month)
	}

	outputMap, err := f.resolveProfile(profile)
	if err != nil {
		return nil, err
	}

	items, err := f.store.FetchP3ItemsByMonth(ctx, tenantID, year, month)
	if err != nil {
		return nil, err
	}

	rows, err := f.flatten(ctx, tenantID, items, outputMap)
	if err != nil {
		return nil, err
	}

	return f.finish(rows, Metadata{
		QueryType: "monthly",
		Year:      year,
		Month:     month,
		Profile:   outputMap.Name,
		Columns:   outputMap.ColumnNames(),
	})
}

func (f *Flattener) resolveProfile(name string) (*OutputMap, error) {
	if name == "" {
		name = "default"
	}

	outputMap, ok := f.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}

	return outputMap, nil
}

// flatten runs steps 2..6 of the join: collect lots, batch-fetch the
// parent sides, emit one row per P3 item. Missing parents never fail a
// row; their columns are null.
func (f *Flattener) flatten(
	ctx context.Context,
	tenantID string,
	items []*storage.P3Item,
	outputMap *OutputMap,
) ([]FlatRow, error) {
	lots := distinctLots(items)

	p2Map, err := f.store.FetchP2ByLots(ctx, tenantID, lots)
	if err != nil {
		return nil, err
	}

	p1Map, err := f.store.FetchP1ByLots(ctx, tenantID, lots)
	if err != nil {
		return nil, err
	}

	p2IDs := make([]string, 0, len(p2Map))
	for _, header := range p2Map {
		p2IDs = append(p2IDs, header.ID)
	}

	p2ItemMap, err := f.store.FetchP2Items(ctx, p2IDs)
	if err != nil {
		return nil, err
	}

	rows := make([]FlatRow, 0, len(items))

	for _, item := range items {
		p1 := p1Map[item.LotNorm]
		p2 := p2Map[item.LotNorm]

		var p2Item *storage.P2Item

		if p2 != nil && item.SourceWinder != nil {
			p2Item = p2ItemMap[storage.P2ItemKey{P2RecordID: p2.ID, WinderNumber: *item.SourceWinder}]
		}

		row := make(FlatRow, len(outputMap.Columns))

		for _, column := range outputMap.Columns {
			row[column.Name] = columnValue(column, item, p1, p2, p2Item)
		}

		rows = append(rows, row)
	}

	return rows, nil
}

// finish applies the result-size policy and fills the shape metadata.
func (f *Flattener) finish(rows []FlatRow, meta Metadata) (*Result, error) {
	if len(rows) > f.hardRowCap {
		return nil, fmt.Errorf("%w: %d rows exceed the %d row cap", ErrResultTooLarge, len(rows), f.hardRowCap)
	}

	switch {
	case len(rows) <= f.gzipThreshold:
		meta.Compression = "none"
	case len(rows) <= f.warnThreshold:
		meta.Compression = "gzip"
	default:
		meta.Compression = "gzip"
		meta.Warning = fmt.Sprintf("result exceeds %d rows; narrow the query", f.warnThreshold)
	}

	meta.NullHandling = "explicit"
	meta.EmptyArrayHandling = "preserve"

	return &Result{
		Data:     rows,
		Count:    len(rows),
		HasData:  len(rows) > 0,
		Metadata: meta,
	}, nil
}

func distinctLots(items []*storage.P3Item) []int64 {
	seen := make(map[int64]bool, len(items))
	lots := make([]int64, 0, len(items))

	for _, item := range items {
		if !seen[item.LotNorm] {
			seen[item.LotNorm] = true

			lots = append(lots, item.LotNorm)
		}
	}

	return lots
}

// columnValue resolves one output column. Typed fields come from their
// columns; everything else falls through to the source row_data, where a
// missing key is null and a present empty string stays "".
func columnValue(
	column Column,
	item *storage.P3Item,
	p1 *storage.P1Record,
	p2 *storage.P2Record,
	p2Item *storage.P2Item,
) any {
	switch column.Source {
	case SourceP3:
		return p3Value(item, column.Field)
	case SourceP1:
		if p1 == nil {
			return nil
		}

		switch column.Field {
		case "lot_no":
			return p1.LotCanonical
		case "production_date":
			return dateValue(p1.ProductionDate)
		default:
			return rowDataValue(p1.RowData, column.Field)
		}
	case SourceP2:
		if p2 == nil {
			return nil
		}

		switch column.Field {
		case "lot_no":
			return p2.LotCanonical
		case "production_date":
			return dateValue(p2.ProductionDate)
		default:
			return rowDataValue(p2.RowData, column.Field)
		}
	case SourceP2Item:
		if p2Item == nil {
			return nil
		}

		if column.Field == "winder_number" {
			return p2Item.WinderNumber
		}

		return rowDataValue(p2Item.RowData, column.Field)
	default:
		return nil
	}
}

func p3Value(item *storage.P3Item, field string) any {
	switch field {
	case "product_id":
		if item.ProductID == nil {
			return nil
		}

		return *item.ProductID
	case "lot_no":
		return item.LotNo
	case "production_date":
		return dateValue(item.ProductionDate)
	case "row_no":
		return item.RowNo
	case "machine_no":
		return item.MachineNo
	case "mold_no":
		return item.MoldNo
	case "production_lot":
		return item.ProductionLot
	case "source_winder":
		if item.SourceWinder == nil {
			return nil
		}

		return *item.SourceWinder
	case "specification":
		return item.Specification
	case "bottom_tape_lot":
		return item.BottomTapeLot
	default:
		return rowDataValue(item.RowData, field)
	}
}

func rowDataValue(rowData map[string]string, field string) any {
	value, ok := rowData[field]
	if !ok {
		return nil
	}

	return value
}

func dateValue(date *time.Time) any {
	if date == nil {
		return nil
	}

	return date.Format(dateLayout)
}
