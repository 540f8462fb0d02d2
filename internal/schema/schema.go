// Package schema provides the fingerprinted header schema registry.
//
// Every ingestable file layout is registered as an immutable schema
// version keyed by (tenant, table_code, header_fingerprint). Ingestion
// refuses any file whose canonicalized header row does not match a
// registered fingerprint — there is no schema inference at commit time.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FieldType enumerates the coercion targets the validator supports.
type FieldType string

// Field types for schema_json field specs.
const (
	FieldTypeText  FieldType = "text"
	FieldTypeInt   FieldType = "int"
	FieldTypeFloat FieldType = "float"
	FieldTypeDate  FieldType = "date"
	FieldTypeBool  FieldType = "bool"
)

// Sentinel errors for schema resolution and parsing.
var (
	// ErrHeaderMismatch is returned when a header row matches no
	// registered fingerprint for the (tenant, table_code) pair.
	ErrHeaderMismatch = errors.New("header row matches no registered schema")

	// ErrInvalidSchemaJSON is returned when schema_json cannot be parsed.
	ErrInvalidSchemaJSON = errors.New("invalid schema_json")
)

type (
	// Version is one immutable registered header schema.
	Version struct {
		ID                string
		TenantID          string
		TableCode         string
		SchemaHash        string
		HeaderFingerprint string
		Definition        *Definition
		CreatedAt         time.Time
	}

	// Definition is the parsed form of schema_json: per-field specs plus
	// cross-field rules, in the order fields appear in the header row.
	Definition struct {
		Fields []FieldSpec `json:"fields"`
		Rules  []FieldRule `json:"rules,omitempty"`
	}

	// FieldSpec describes validation for a single column.
	FieldSpec struct {
		Name     string    `json:"name"`
		Type     FieldType `json:"type"`
		Required bool      `json:"required,omitempty"`
		Regex    string    `json:"regex,omitempty"`
		Min      *float64  `json:"min,omitempty"`
		Max      *float64  `json:"max,omitempty"`
		Enum     []string  `json:"enum,omitempty"`
	}

	// FieldRule is a cross-field rule within one row: when IfField equals
	// Equals, ThenRequired must be populated.
	FieldRule struct {
		IfField      string `json:"if_field"`
		Equals       string `json:"equals"`
		ThenRequired string `json:"then_required"`
	}
)

// ParseDefinition parses schema_json into a Definition.
func ParseDefinition(schemaJSON []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(schemaJSON, &def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchemaJSON, err)
	}

	if len(def.Fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidSchemaJSON)
	}

	seen := make(map[string]bool, len(def.Fields))

	for _, field := range def.Fields {
		if field.Name == "" {
			return nil, fmt.Errorf("%w: field with empty name", ErrInvalidSchemaJSON)
		}

		if seen[field.Name] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchemaJSON, field.Name)
		}

		seen[field.Name] = true
	}

	return &def, nil
}

// Field returns the spec for a named field, or (zero, false).
func (d *Definition) Field(name string) (FieldSpec, bool) {
	for _, field := range d.Fields {
		if field.Name == name {
			return field, true
		}
	}

	return FieldSpec{}, false
}

// HeaderNames returns the ordered canonical column names of the schema.
func (d *Definition) HeaderNames() []string {
	names := make([]string, len(d.Fields))
	for i, field := range d.Fields {
		names[i] = field.Name
	}

	return names
}
