// Package query serves the read-side API surface: advanced search over
// the committed record tables, trace detail for one lot, lot
// autocomplete, and the options enumerations.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/linetrace-io/linetrace/internal/canonicalization"
	"github.com/linetrace-io/linetrace/internal/storage"
)

const (
	// DefaultPageSize bounds unpaged search requests.
	DefaultPageSize = 50
	// MaxPageSize bounds client-chosen page sizes.
	MaxPageSize = 500
)

var (
	// ErrInvalidDataType indicates a data_type filter outside P1/P2/P3.
	ErrInvalidDataType = errors.New("invalid data type")

	// ErrInvalidTraceKey indicates a trace key that resolves to no lot.
	ErrInvalidTraceKey = errors.New("invalid trace key")
)

type (
	// SearchStore is the paged search surface. Implemented by
	// storage.QueryStore.
	SearchStore interface {
		SearchP1(ctx context.Context, tenantID string, filters storage.SearchFilters, limit, offset int) ([]*storage.P1Record, int, error)
		SearchP2(ctx context.Context, tenantID string, filters storage.SearchFilters, limit, offset int) ([]*storage.P2Record, int, error)
		SearchP3Items(ctx context.Context, tenantID string, filters storage.SearchFilters, limit, offset int) ([]*storage.P3Item, int, error)
		LotSuggestions(ctx context.Context, tenantID, pattern string, limit int) ([]string, error)
		Options(ctx context.Context, tenantID, field string) ([]string, error)
	}

	// RecordStore is the per-lot detail surface. Implemented by
	// storage.RecordStore.
	RecordStore interface {
		FindByLot(ctx context.Context, tenantID string, lotNorm int64) (*storage.LotBundle, error)
		FetchP2Items(ctx context.Context, p2RecordIDs []string) (map[storage.P2ItemKey]*storage.P2Item, error)
	}

	// SearchRequest is the parsed advanced-search filter set.
	SearchRequest struct {
		LotNo         string
		DataType      string // "", "P1", "P2", "P3"
		DateFrom      *time.Time
		DateTo        *time.Time
		MachineNo     string
		MoldNo        string
		Specification string
		BottomTapeLot string
		ProductID     string
		WinderNumber  *int
		Page          int
		PageSize      int
	}

	// Record is one presentation-level search result. A P2 record with no
	// winder filter merges its winder items into AdditionalData["rows"].
	Record struct {
		TraceKey       string         `json:"trace_key"`
		DataType       string         `json:"data_type"`
		LotNo          string         `json:"lot_no"`
		ProductionDate *string        `json:"production_date"`
		WinderNumber   *int           `json:"winder_number,omitempty"`
		ProductID      *string        `json:"product_id,omitempty"`
		Data           map[string]string `json:"data"`
		AdditionalData map[string]any `json:"additional_data,omitempty"`
	}

	// SearchResult is one page of search results.
	SearchResult struct {
		Total    int       `json:"total"`
		Page     int       `json:"page"`
		PageSize int       `json:"page_size"`
		Records  []*Record `json:"records"`
	}

	// TraceDetail is everything known about one lot. Missing layers are
	// null (p1, p2) or empty arrays (items), never an error.
	TraceDetail struct {
		P1      *storage.P1Record `json:"p1"`
		P2      *storage.P2Record `json:"p2"`
		P2Items []*storage.P2Item `json:"p2_items"`
		P3Items []*storage.P3Item `json:"p3_items"`
	}

	// Service answers the query endpoints.
	Service struct {
		search  SearchStore
		records RecordStore
		logger  *slog.Logger
	}
)

// NewService creates a query Service.
func NewService(search SearchStore, records RecordStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{search: search, records: records, logger: logger}
}

// Search runs the advanced search. With no data_type filter the result
// pages over P1, then P2, then P3 segments in that order.
func (s *Service) Search(ctx context.Context, tenantID string, req SearchRequest) (*SearchResult, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}

	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	dataTypes, err := resolveDataTypes(req.DataType)
	if err != nil {
		return nil, err
	}

	filters := storage.SearchFilters{
		LotPattern:       normalizeLotPattern(req.LotNo),
		DateFrom:         req.DateFrom,
		DateTo:           req.DateTo,
		MachineNo:        strings.TrimSpace(req.MachineNo),
		MoldNo:           strings.TrimSpace(req.MoldNo),
		Specification:    strings.TrimSpace(req.Specification),
		BottomTapeLot:    strings.TrimSpace(req.BottomTapeLot),
		ProductIDPattern: strings.TrimSpace(req.ProductID),
		WinderNumber:     req.WinderNumber,
	}

	var (
		records     []*Record
		grandTotal  int
		globalStart = (page - 1) * pageSize
	)

	for _, dataType := range dataTypes {
		localOffset := globalStart - grandTotal
		if localOffset < 0 {
			localOffset = 0
		}

		limit := pageSize - len(records)

		hits, total, err := s.searchSegment(ctx, tenantID, dataType, filters, limit, localOffset)
		if err != nil {
			return nil, err
		}

		records = append(records, hits...)
		grandTotal += total
	}

	if records == nil {
		records = []*Record{}
	}

	return &SearchResult{Total: grandTotal, Page: page, PageSize: pageSize, Records: records}, nil
}

func (s *Service) searchSegment(
	ctx context.Context,
	tenantID, dataType string,
	filters storage.SearchFilters,
	limit, offset int,
) ([]*Record, int, error) {
	switch dataType {
	case "P1":
		hits, total, err := s.search.SearchP1(ctx, tenantID, filters, limit, offset)
		if err != nil {
			return nil, 0, err
		}

		return p1Records(hits), total, nil
	case "P2":
		hits, total, err := s.search.SearchP2(ctx, tenantID, filters, limit, offset)
		if err != nil {
			return nil, 0, err
		}

		records, err := s.p2Records(ctx, hits, filters.WinderNumber)
		if err != nil {
			return nil, 0, err
		}

		return records, total, nil
	case "P3":
		hits, total, err := s.search.SearchP3Items(ctx, tenantID, filters, limit, offset)
		if err != nil {
			return nil, 0, err
		}

		return p3Records(hits), total, nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidDataType, dataType)
	}
}

// Trace resolves a trace key to its lot and returns all layers.
func (s *Service) Trace(ctx context.Context, tenantID, traceKey string) (*TraceDetail, error) {
	lot, err := canonicalization.NormalizeLotNo(traceKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTraceKey, traceKey)
	}

	bundle, err := s.records.FindByLot(ctx, tenantID, lot.Norm)
	if err != nil {
		return nil, err
	}

	detail := &TraceDetail{
		P1:      bundle.P1,
		P2:      bundle.P2,
		P2Items: bundle.P2Items,
		P3Items: bundle.P3Items,
	}

	if detail.P2Items == nil {
		detail.P2Items = []*storage.P2Item{}
	}

	if detail.P3Items == nil {
		detail.P3Items = []*storage.P3Item{}
	}

	return detail, nil
}

// Suggestions returns canonical lot numbers matching the term.
func (s *Service) Suggestions(ctx context.Context, tenantID, term string, limit int) ([]string, error) {
	return s.search.LotSuggestions(ctx, tenantID, normalizeLotPattern(term), limit)
}

// Options returns the distinct values for an enumerable field.
func (s *Service) Options(ctx context.Context, tenantID, field string) ([]string, error) {
	return s.search.Options(ctx, tenantID, field)
}

func resolveDataTypes(dataType string) ([]string, error) {
	switch strings.ToUpper(strings.TrimSpace(dataType)) {
	case "":
		return []string{"P1", "P2", "P3"}, nil
	case "P1":
		return []string{"P1"}, nil
	case "P2":
		return []string{"P2"}, nil
	case "P3":
		return []string{"P3"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDataType, dataType)
	}
}

// normalizeLotPattern canonicalizes a lot filter before matching. A term
// with separators that normalizes cleanly matches on its canonical form;
// anything else matches as a raw substring.
func normalizeLotPattern(term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return ""
	}

	if strings.ContainsAny(term, "-_ ") {
		if lot, err := canonicalization.NormalizeLotNo(term); err == nil {
			return lot.Canonical
		}
	}

	return term
}

func p1Records(hits []*storage.P1Record) []*Record {
	records := make([]*Record, 0, len(hits))

	for _, hit := range hits {
		records = append(records, &Record{
			TraceKey:       hit.LotCanonical,
			DataType:       "P1",
			LotNo:          hit.LotCanonical,
			ProductionDate: formatDate(hit.ProductionDate),
			Data:           hit.RowData,
		})
	}

	return records
}

// p2Records renders P2 headers. Without a winder filter the winder items
// merge into one record per lot under additional_data.rows; with one,
// each record carries only the selected winder. Storage stays one row
// per winder either way.
func (s *Service) p2Records(ctx context.Context, hits []*storage.P2Record, winder *int) ([]*Record, error) {
	if len(hits) == 0 {
		return []*Record{}, nil
	}

	headerIDs := make([]string, len(hits))
	for i, hit := range hits {
		headerIDs[i] = hit.ID
	}

	itemMap, err := s.records.FetchP2Items(ctx, headerIDs)
	if err != nil {
		return nil, err
	}

	itemsByHeader := map[string][]*storage.P2Item{}
	for _, item := range itemMap {
		itemsByHeader[item.P2RecordID] = append(itemsByHeader[item.P2RecordID], item)
	}

	for _, items := range itemsByHeader {
		sortP2Items(items)
	}

	records := make([]*Record, 0, len(hits))

	for _, hit := range hits {
		record := &Record{
			TraceKey:       hit.LotCanonical,
			DataType:       "P2",
			LotNo:          hit.LotCanonical,
			ProductionDate: formatDate(hit.ProductionDate),
			Data:           hit.RowData,
		}

		items := itemsByHeader[hit.ID]

		if winder != nil {
			for _, item := range items {
				if item.WinderNumber == *winder {
					record.WinderNumber = winder
					record.Data = item.RowData

					break
				}
			}
		} else {
			rows := make([]map[string]any, 0, len(items))

			for _, item := range items {
				row := make(map[string]any, len(item.RowData)+1)
				for key, value := range item.RowData {
					row[key] = value
				}

				row["winder_number"] = item.WinderNumber

				rows = append(rows, row)
			}

			record.AdditionalData = map[string]any{"rows": rows}
		}

		records = append(records, record)
	}

	return records, nil
}

func p3Records(hits []*storage.P3Item) []*Record {
	records := make([]*Record, 0, len(hits))

	for _, hit := range hits {
		records = append(records, &Record{
			TraceKey:       canonicalLot(hit.LotNorm),
			DataType:       "P3",
			LotNo:          hit.LotNo,
			ProductionDate: formatDate(hit.ProductionDate),
			WinderNumber:   hit.SourceWinder,
			ProductID:      hit.ProductID,
			Data:           hit.RowData,
		})
	}

	return records
}

func canonicalLot(lotNorm int64) string {
	lot, err := canonicalization.NormalizeLotNo(fmt.Sprintf("%d", lotNorm))
	if err != nil {
		return fmt.Sprintf("%d", lotNorm)
	}

	return lot.Canonical
}

func sortP2Items(items []*storage.P2Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].WinderNumber < items[j].WinderNumber
	})
}

func formatDate(date *time.Time) *string {
	if date == nil {
		return nil
	}

	formatted := date.Format("2006-01-02")

	return &formatted
}
