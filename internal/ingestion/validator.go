package ingestion

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/linetrace-io/linetrace/internal/canonicalization"
	"github.com/linetrace-io/linetrace/internal/schema"
)

type (
	// FieldBindings names the domain-significant columns inside a tenant's
	// schema: which column carries the lot number, the production date, the
	// winder index, the product id. Validation and commit both key off them.
	FieldBindings struct {
		Lot       string
		Date      string
		Winder    string // P2 only
		ProductID string // P3 only
	}

	// LineageStore answers the advisory cross-table checks. It may observe
	// stale state; the database constraints remain the authority at commit.
	LineageStore interface {
		P1Exists(ctx context.Context, tenantID string, lotNorm int64) (bool, error)
		P2Exists(ctx context.Context, tenantID string, lotNorm int64) (bool, error)
	}

	// Validator applies the four schema-driven rule layers to staged rows:
	//
	//  1. column-level (required, type, range, enum, regex)
	//  2. cross-field within a row (conditional requirements)
	//  3. cross-row within the batch (uniqueness)
	//  4. cross-table against the database (lineage, optional per tenant)
	//
	// A row stops at the first layer that finds errors; within the column
	// layer all findings are collected.
	Validator struct {
		tenantID  string
		tableCode TableCode
		def       *schema.Definition
		bindings  FieldBindings
		lineage   LineageStore // nil disables layer 4

		regexes map[string]*regexp.Regexp
	}
)

// DefaultBindings returns the conventional column bindings for a table
// code. Tenants whose schemas use different header names override these
// per schema version.
func DefaultBindings(code TableCode) FieldBindings {
	switch code {
	case TableP1:
		return FieldBindings{Lot: "Lot No", Date: "Production Date"}
	case TableP2:
		return FieldBindings{Lot: "Lot No", Date: "分條時間", Winder: "winder_number"}
	case TableP3:
		return FieldBindings{Lot: "lot_no", Date: "year-month-day", ProductID: "product_id"}
	default:
		return FieldBindings{}
	}
}

// boolCells maps the yes/no spellings seen in source files onto bool.
var boolCells = map[string]bool{
	"Y": true, "y": true, "N": false, "n": false,
	"true": true, "false": false,
	"1": true, "0": false,
}

// judgementCells maps pass/fail judgement cells onto the integers the
// record tables store.
var judgementCells = map[string]int{"OK": 1, "NG": 0}

// NewValidator builds a validator for one schema version. Regex rules are
// compiled up front; an invalid pattern is a schema defect, not a row error.
func NewValidator(
	tenantID string,
	tableCode TableCode,
	def *schema.Definition,
	bindings FieldBindings,
	lineage LineageStore,
) (*Validator, error) {
	regexes := make(map[string]*regexp.Regexp)

	for _, field := range def.Fields {
		if field.Regex == "" {
			continue
		}

		compiled, err := regexp.Compile(field.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid regex for field %q: %w", field.Name, err)
		}

		regexes[field.Name] = compiled
	}

	return &Validator{
		tenantID:  tenantID,
		tableCode: tableCode,
		def:       def,
		bindings:  bindings,
		lineage:   lineage,
		regexes:   regexes,
	}, nil
}

// ValidateBatch runs all rule layers over the rows, recording findings in
// place. Returns the number of rows carrying at least one error.
func (v *Validator) ValidateBatch(ctx context.Context, rows []*StagingRow) (int, error) {
	for _, row := range rows {
		v.validateColumns(row)

		if !row.HasErrors() {
			v.validateCrossField(row)
		}
	}

	v.validateCrossRow(rows)

	if v.lineage != nil {
		if err := v.validateLineage(ctx, rows); err != nil {
			return 0, err
		}
	}

	errorCount := 0

	for _, row := range rows {
		if row.HasErrors() {
			errorCount++
		}
	}

	return errorCount, nil
}

// validateColumns is layer 1. All findings for the row are collected; no
// early exit per field list.
func (v *Validator) validateColumns(row *StagingRow) {
	for _, field := range v.def.Fields {
		raw := strings.TrimSpace(row.Parsed[field.Name])

		if raw == "" {
			if field.Required {
				row.AddError(field.Name, CodeRequired, "value is required", "")
			}

			continue
		}

		v.validateCell(row, field, raw)
	}
}

func (v *Validator) validateCell(row *StagingRow, field schema.FieldSpec, raw string) {
	switch field.Type {
	case schema.FieldTypeInt:
		value, ok := coerceInt(raw)
		if !ok {
			row.AddError(field.Name, CodeType, "value is not an integer", raw)

			return
		}

		v.checkRange(row, field, float64(value), raw)

	case schema.FieldTypeFloat:
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			row.AddError(field.Name, CodeType, "value is not a number", raw)

			return
		}

		v.checkRange(row, field, value, raw)

	case schema.FieldTypeBool:
		if _, ok := boolCells[raw]; !ok {
			row.AddError(field.Name, CodeType, "value is not a yes/no flag", raw)

			return
		}

	case schema.FieldTypeDate:
		if _, err := canonicalization.NormalizeDate(raw); err != nil {
			row.AddError(field.Name, CodeDateFormat, "unrecognized date format", raw)

			return
		}

	case schema.FieldTypeText:
		// No coercion.
	}

	if field.Name == v.bindings.Lot {
		if _, err := v.normalizeLot(raw); err != nil {
			row.AddError(field.Name, CodeLotFormat, "lot number is not digits after separator removal", raw)

			return
		}
	}

	if len(field.Enum) > 0 && !contains(field.Enum, raw) {
		row.AddError(field.Name, CodeEnum,
			fmt.Sprintf("value not in {%s}", strings.Join(field.Enum, ",")), raw)

		return
	}

	if pattern, ok := v.regexes[field.Name]; ok && !pattern.MatchString(raw) {
		row.AddError(field.Name, CodeRegex, "value does not match required pattern", raw)
	}
}

func (v *Validator) checkRange(row *StagingRow, field schema.FieldSpec, value float64, raw string) {
	if field.Min != nil && value < *field.Min {
		row.AddError(field.Name, CodeRange, fmt.Sprintf("value below minimum %v", *field.Min), raw)

		return
	}

	if field.Max != nil && value > *field.Max {
		row.AddError(field.Name, CodeRange, fmt.Sprintf("value above maximum %v", *field.Max), raw)
	}
}

// validateCrossField is layer 2: conditional requirements such as
// "appearance=NG makes notes required".
func (v *Validator) validateCrossField(row *StagingRow) {
	for _, rule := range v.def.Rules {
		if strings.TrimSpace(row.Parsed[rule.IfField]) != rule.Equals {
			continue
		}

		if strings.TrimSpace(row.Parsed[rule.ThenRequired]) == "" {
			row.AddError(rule.ThenRequired, CodeRequired,
				fmt.Sprintf("required when %s=%s", rule.IfField, rule.Equals), "")
		}
	}
}

// validateCrossRow is layer 3: in-file uniqueness. P2 rows are unique by
// (lot_no_norm, winder), P3 rows by product_id. The first occurrence wins;
// later duplicates carry the error.
func (v *Validator) validateCrossRow(rows []*StagingRow) {
	switch v.tableCode {
	case TableP2:
		seen := make(map[string]bool, len(rows))

		for _, row := range rows {
			if row.HasErrors() {
				continue
			}

			lot, err := v.normalizeLot(strings.TrimSpace(row.Parsed[v.bindings.Lot]))
			if err != nil {
				continue
			}

			key := fmt.Sprintf("%d|%s", lot.Norm, strings.TrimSpace(row.Parsed[v.bindings.Winder]))
			if seen[key] {
				row.AddError(v.bindings.Winder, CodeUniqueInFile,
					"duplicate (lot, winder) within batch", row.Parsed[v.bindings.Winder])

				continue
			}

			seen[key] = true
		}

	case TableP3:
		seen := make(map[string]bool, len(rows))

		for _, row := range rows {
			if row.HasErrors() {
				continue
			}

			productID := strings.TrimSpace(row.Parsed[v.bindings.ProductID])
			if productID == "" {
				continue
			}

			if seen[productID] {
				row.AddError(v.bindings.ProductID, CodeUniqueInFile,
					"duplicate product_id within batch", productID)

				continue
			}

			seen[productID] = true
		}

	case TableP1:
		// One row per lot is enforced by upsert semantics at commit.
	}
}

// validateLineage is layer 4: advisory parent checks against the database.
// One check per row, stopping at the first miss.
func (v *Validator) validateLineage(ctx context.Context, rows []*StagingRow) error {
	// Lineage results are cached per lot so a 3000-row file of 20-winder
	// lots issues one query per lot, not per row.
	exists := make(map[int64]bool)

	for _, row := range rows {
		if row.HasErrors() {
			continue
		}

		lot, err := v.normalizeLot(strings.TrimSpace(row.Parsed[v.bindings.Lot]))
		if err != nil {
			continue
		}

		found, cached := exists[lot.Norm]

		if !cached {
			switch v.tableCode {
			case TableP2:
				found, err = v.lineage.P1Exists(ctx, v.tenantID, lot.Norm)
			case TableP3:
				found, err = v.lineage.P2Exists(ctx, v.tenantID, lot.Norm)
			case TableP1:
				found = true
			}

			if err != nil {
				return fmt.Errorf("failed lineage check for lot %s: %w", lot.Canonical, err)
			}

			exists[lot.Norm] = found
		}

		if !found {
			parent := "P1"
			if v.tableCode == TableP3 {
				parent = "P2"
			}

			row.AddError(v.bindings.Lot, CodeFKMissing,
				fmt.Sprintf("no %s record for lot %s", parent, lot.Canonical), row.Parsed[v.bindings.Lot])
		}
	}

	return nil
}

// normalizeLot picks the lot normalizer for the table: P3 lots carry an
// optional roll-collector suffix that must be stripped first.
func (v *Validator) normalizeLot(raw string) (canonicalization.Lot, error) {
	if v.tableCode == TableP3 {
		return canonicalization.NormalizeP3LotNo(raw)
	}

	return canonicalization.NormalizeLotNo(raw)
}

// CoerceBool maps a yes/no cell onto bool. Reports false when the cell is
// not a recognized spelling.
func CoerceBool(raw string) (bool, bool) {
	value, ok := boolCells[strings.TrimSpace(raw)]

	return value, ok
}

// coerceInt parses an integer cell, accepting the OK/NG judgement
// spellings as 1/0.
func coerceInt(raw string) (int64, bool) {
	if judged, ok := judgementCells[raw]; ok {
		return int64(judged), true
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}

	return value, true
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}

	return false
}
