package ingestion

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linetrace-io/linetrace/internal/canonicalization"
)

type (
	// CommitSet is the transformed, write-ready shape of a job's valid
	// staging rows. The record store persists it in one transaction.
	CommitSet struct {
		TenantID  string
		TableCode TableCode
		P1        []P1Row
		P2        []P2Commit
		P3        []P3Commit
	}

	// P1Row upserts one extruder-run record.
	P1Row struct {
		RowID          string
		RowIndex       int
		LotNorm        int64
		LotCanonical   string
		ProductionDate *time.Time
		RowData        map[string]string
	}

	// P2Commit upserts one slitting header and replaces its winder items.
	P2Commit struct {
		LotNorm        int64
		LotCanonical   string
		ProductionDate *time.Time
		HeaderData     map[string]string
		Items          []P2Item
	}

	// P2Item is one winder row under a P2 header.
	P2Item struct {
		RowID        string
		RowIndex     int
		WinderNumber int
		RowData      map[string]string
	}

	// P3Commit upserts one finish-inspection header and replaces its items.
	P3Commit struct {
		LotNorm      int64
		LotCanonical string
		Items        []P3Item
	}

	// P3Item is one inspection row under a P3 header. ProductID is empty
	// when the source row has none; SourceWinder is nil when the raw lot
	// carries no roll-collector suffix.
	P3Item struct {
		RowID          string
		RowIndex       int
		RowNo          int
		ProductID      string
		LotRaw         string
		ProductionDate *time.Time
		SourceWinder   *int
		RowData        map[string]string
	}
)

// UniqueViolationError marks a database unique-constraint hit against one
// staged row during commit. The record store returns it so the pipeline
// can attach E_UNIQUE_IN_DB to the offending row. RowID targets the row;
// RowIndex is kept for the error report.
type UniqueViolationError struct {
	RowID    string
	RowIndex int
	Field    string
	Value    string
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint violated at row %d, field %s (%s)", e.RowIndex, e.Field, e.Value)
}

// BuildCommitSet transforms validated staging rows into the write-ready
// shape for the table. Rows are expected to be error-free; a lot that no
// longer normalizes is an internal inconsistency, not a row error.
func BuildCommitSet(
	tenantID string,
	tableCode TableCode,
	bindings FieldBindings,
	rows []*StagingRow,
) (*CommitSet, error) {
	set := &CommitSet{TenantID: tenantID, TableCode: tableCode}

	switch tableCode {
	case TableP1:
		for _, row := range rows {
			lot, err := canonicalization.NormalizeLotNo(cell(row, bindings.Lot))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", row.RowIndex, err)
			}

			set.P1 = append(set.P1, P1Row{
				RowID:          row.ID,
				RowIndex:       row.RowIndex,
				LotNorm:        lot.Norm,
				LotCanonical:   lot.Canonical,
				ProductionDate: parseDateCell(cell(row, bindings.Date)),
				RowData:        row.Parsed,
			})
		}

	case TableP2:
		groups, order, err := groupByLot(rows, bindings, canonicalization.NormalizeLotNo)
		if err != nil {
			return nil, err
		}

		for _, lotNorm := range order {
			group := groups[lotNorm]
			commit := P2Commit{
				LotNorm:        lotNorm,
				LotCanonical:   group.canonical,
				ProductionDate: parseDateCell(cell(group.rows[0], bindings.Date)),
				HeaderData:     group.rows[0].Parsed,
			}

			for _, row := range group.rows {
				winder, err := strconv.Atoi(cell(row, bindings.Winder))
				if err != nil {
					return nil, fmt.Errorf("row %d: invalid winder number %q", row.RowIndex, cell(row, bindings.Winder))
				}

				commit.Items = append(commit.Items, P2Item{
					RowID:        row.ID,
					RowIndex:     row.RowIndex,
					WinderNumber: winder,
					RowData:      row.Parsed,
				})
			}

			set.P2 = append(set.P2, commit)
		}

	case TableP3:
		groups, order, err := groupByLot(rows, bindings, canonicalization.NormalizeP3LotNo)
		if err != nil {
			return nil, err
		}

		for _, lotNorm := range order {
			group := groups[lotNorm]
			commit := P3Commit{LotNorm: lotNorm, LotCanonical: group.canonical}

			for i, row := range group.rows {
				lotRaw := cell(row, bindings.Lot)

				item := P3Item{
					RowID:          row.ID,
					RowIndex:       row.RowIndex,
					RowNo:          i + 1,
					ProductID:      cell(row, bindings.ProductID),
					LotRaw:         lotRaw,
					ProductionDate: parseDateCell(cell(row, bindings.Date)),
					RowData:        row.Parsed,
				}

				if winder, ok := canonicalization.ExtractSourceWinder(lotRaw); ok {
					item.SourceWinder = &winder
				}

				commit.Items = append(commit.Items, item)
			}

			set.P3 = append(set.P3, commit)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableCode, tableCode)
	}

	return set, nil
}

type lotGroup struct {
	canonical string
	rows      []*StagingRow
}

// groupByLot buckets rows by normalized lot, preserving first-seen order
// so commits are deterministic for identical inputs.
func groupByLot(
	rows []*StagingRow,
	bindings FieldBindings,
	normalize func(string) (canonicalization.Lot, error),
) (map[int64]*lotGroup, []int64, error) {
	groups := make(map[int64]*lotGroup)

	var order []int64

	for _, row := range rows {
		lot, err := normalize(cell(row, bindings.Lot))
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: %w", row.RowIndex, err)
		}

		group, ok := groups[lot.Norm]
		if !ok {
			group = &lotGroup{canonical: lot.Canonical}
			groups[lot.Norm] = group
			order = append(order, lot.Norm)
		}

		group.rows = append(group.rows, row)
	}

	return groups, order, nil
}

func cell(row *StagingRow, name string) string {
	return strings.TrimSpace(row.Parsed[name])
}

// parseDateCell parses an optional date cell, returning nil when the cell
// is empty or unparseable. Date-typed columns are already checked during
// validation, so nil here means the column is genuinely optional.
func parseDateCell(raw string) *time.Time {
	if raw == "" {
		return nil
	}

	date, err := canonicalization.NormalizeDate(raw)
	if err != nil {
		return nil
	}

	return &date
}
