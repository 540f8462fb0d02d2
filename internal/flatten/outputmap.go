package flatten

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Column sources. p2_item resolves through the P3 item's source winder.
const (
	SourceP3     = "p3"
	SourceP1     = "p1"
	SourceP2     = "p2"
	SourceP2Item = "p2_item"
)

type (
	// Column maps one output column to a field on one side of the join.
	Column struct {
		Name   string `yaml:"name"   json:"name"`
		Source string `yaml:"source" json:"source"`
		Field  string `yaml:"field"  json:"field"`
	}

	// OutputMap is the ordered column layout of a flatten response. The
	// layout is stable per tenant; tenants override the default via a
	// named YAML profile.
	OutputMap struct {
		Name    string   `yaml:"name"    json:"name"`
		Columns []Column `yaml:"columns" json:"columns"`
	}
)

// ParseOutputMap decodes a YAML output-map profile and validates its
// column sources.
func ParseOutputMap(data []byte) (*OutputMap, error) {
	var outputMap OutputMap

	if err := yaml.Unmarshal(data, &outputMap); err != nil {
		return nil, fmt.Errorf("failed to parse output map: %w", err)
	}

	if outputMap.Name == "" {
		return nil, fmt.Errorf("output map has no name")
	}

	if len(outputMap.Columns) == 0 {
		return nil, fmt.Errorf("output map %q has no columns", outputMap.Name)
	}

	seen := make(map[string]bool, len(outputMap.Columns))

	for _, column := range outputMap.Columns {
		if column.Name == "" || column.Field == "" {
			return nil, fmt.Errorf("output map %q has a column with an empty name or field", outputMap.Name)
		}

		if seen[column.Name] {
			return nil, fmt.Errorf("output map %q repeats column %q", outputMap.Name, column.Name)
		}

		seen[column.Name] = true

		switch column.Source {
		case SourceP3, SourceP1, SourceP2, SourceP2Item:
		default:
			return nil, fmt.Errorf("output map %q column %q has unknown source %q",
				outputMap.Name, column.Name, column.Source)
		}
	}

	return &outputMap, nil
}

// LoadProfileDir reads every .yaml/.yml file in dir as an output-map
// profile. Profile names must be unique across the directory.
func LoadProfileDir(dir string) ([]*OutputMap, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile directory: %w", err)
	}

	var profiles []*OutputMap

	seen := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
		}

		profile, err := ParseOutputMap(data)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", path, err)
		}

		if prev, ok := seen[profile.Name]; ok {
			return nil, fmt.Errorf("profile %q defined in both %s and %s", profile.Name, prev, path)
		}

		seen[profile.Name] = path

		profiles = append(profiles, profile)
	}

	return profiles, nil
}

// ColumnNames returns the layout's column names in output order.
func (m *OutputMap) ColumnNames() []string {
	names := make([]string, len(m.Columns))

	for i, column := range m.Columns {
		names[i] = column.Name
	}

	return names
}

// col is shorthand for building the default map.
func col(name, source, field string) Column {
	return Column{Name: name, Source: source, Field: field}
}

// DefaultOutputMap is the standard 64-column traceability layout: P3
// core, P3 inspection details, the joined P1 run, the joined P2 header,
// and the joined P2 winder item.
func DefaultOutputMap() *OutputMap {
	return &OutputMap{
		Name: "default",
		Columns: []Column{
			// P3 core
			col("product_id", SourceP3, "product_id"),
			col("lot_no", SourceP3, "lot_no"),
			col("production_date", SourceP3, "production_date"),
			col("row_no", SourceP3, "row_no"),
			col("machine_no", SourceP3, "machine_no"),
			col("mold_no", SourceP3, "mold_no"),
			col("production_lot", SourceP3, "production_lot"),
			col("source_winder", SourceP3, "source_winder"),
			col("specification", SourceP3, "specification"),
			col("bottom_tape_lot", SourceP3, "bottom_tape_lot"),

			// P3 inspection details
			col("adjustment_record", SourceP3, "adjustment_record"),
			col("pocket_pitch", SourceP3, "pocket_pitch"),
			col("pocket_depth", SourceP3, "pocket_depth"),
			col("carrier_width", SourceP3, "carrier_width"),
			col("carrier_thickness", SourceP3, "carrier_thickness"),
			col("total_pockets", SourceP3, "total_pockets"),
			col("ng_count", SourceP3, "ng_count"),
			col("inspection_qty", SourceP3, "inspection_qty"),
			col("inspector", SourceP3, "inspector"),
			col("inspection_date", SourceP3, "inspection_date"),
			col("seal_width", SourceP3, "seal_width"),
			col("peel_strength", SourceP3, "peel_strength"),
			col("appearance", SourceP3, "appearance"),
			col("p3_remarks", SourceP3, "remarks"),

			// P1 extruder run
			col("p1_lot_no", SourceP1, "lot_no"),
			col("p1_production_date", SourceP1, "production_date"),
			col("resin_lot", SourceP1, "resin_lot"),
			col("extruder_no", SourceP1, "extruder_no"),
			col("die_temp", SourceP1, "die_temp"),
			col("melt_temp", SourceP1, "melt_temp"),
			col("line_speed", SourceP1, "line_speed"),
			col("sheet_thickness", SourceP1, "sheet_thickness"),
			col("sheet_width", SourceP1, "sheet_width"),
			col("cooling_temp", SourceP1, "cooling_temp"),
			col("tension", SourceP1, "tension"),
			col("haul_off_speed", SourceP1, "haul_off_speed"),
			col("batch_no", SourceP1, "batch_no"),
			col("material_grade", SourceP1, "material_grade"),
			col("p1_operator", SourceP1, "operator"),
			col("p1_remarks", SourceP1, "remarks"),

			// P2 slitting header
			col("p2_lot_no", SourceP2, "lot_no"),
			col("p2_production_date", SourceP2, "production_date"),
			col("slitter_no", SourceP2, "slitter_no"),
			col("blade_lot", SourceP2, "blade_lot"),
			col("slit_speed", SourceP2, "slit_speed"),
			col("slit_width", SourceP2, "slit_width"),
			col("number_of_winders", SourceP2, "number_of_winders"),
			col("p2_operator", SourceP2, "operator"),
			col("p2_inspection", SourceP2, "inspection"),
			col("p2_remarks", SourceP2, "remarks"),

			// P2 winder item
			col("winder_number", SourceP2Item, "winder_number"),
			col("winding_length", SourceP2Item, "winding_length"),
			col("winding_width", SourceP2Item, "winding_width"),
			col("winding_tension", SourceP2Item, "winding_tension"),
			col("defect_count", SourceP2Item, "defect_count"),
			col("splice_count", SourceP2Item, "splice_count"),
			col("judgement", SourceP2Item, "judgement"),
			col("edge_quality", SourceP2Item, "edge_quality"),
			col("core_lot", SourceP2Item, "core_lot"),
			col("label_check", SourceP2Item, "label_check"),
			col("start_meter", SourceP2Item, "start_meter"),
			col("end_meter", SourceP2Item, "end_meter"),
			col("winder_operator", SourceP2Item, "operator"),
			col("p2_item_remarks", SourceP2Item, "remarks"),
		},
	}
}
