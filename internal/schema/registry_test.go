package schema

import (
	"context"
	"errors"
	"testing"
)

// fakeStore counts lookups so cache behavior is observable.
type fakeStore struct {
	versions map[string]*Version // fingerprint -> version
	calls    int
	err      error
}

func (f *fakeStore) FindVersion(_ context.Context, _, _, fingerprint string) (*Version, error) {
	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return f.versions[fingerprint], nil
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint([]string{"Production Date", "Lot No"})
	b := Fingerprint([]string{" Production  Date ", "Lot\tNo"})

	if a != b {
		t.Errorf("canonically equal headers produced different fingerprints: %s vs %s", a, b)
	}

	c := Fingerprint([]string{"Lot No", "Production Date"})
	if a == c {
		t.Error("reordered headers must produce a different fingerprint")
	}

	d := Fingerprint([]string{"production date", "lot no"})
	if a == d {
		t.Error("fingerprint comparison must stay case-sensitive")
	}
}

func TestRegistryResolve(t *testing.T) {
	header := []string{"Production Date", "Lot No"}
	fp := Fingerprint(header)

	store := &fakeStore{versions: map[string]*Version{
		fp: {ID: "sv-1", TenantID: "t-1", TableCode: "P1", HeaderFingerprint: fp},
	}}
	registry := NewRegistry(store)

	version, err := registry.Resolve(context.Background(), "t-1", "P1", header)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if version.ID != "sv-1" {
		t.Errorf("version.ID = %q, want sv-1", version.ID)
	}

	// Second resolve is served from the cache.
	if _, err := registry.Resolve(context.Background(), "t-1", "P1", header); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if store.calls != 1 {
		t.Errorf("store lookups = %d, want 1 (cache miss only)", store.calls)
	}
}

func TestRegistryResolveUnknownFingerprint(t *testing.T) {
	registry := NewRegistry(&fakeStore{versions: map[string]*Version{}})

	_, err := registry.Resolve(context.Background(), "t-1", "P1", []string{"Prod Date", "Lot No"})
	if !errors.Is(err, ErrHeaderMismatch) {
		t.Errorf("error = %v, want ErrHeaderMismatch", err)
	}
}

func TestRegistryResolveStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	registry := NewRegistry(&fakeStore{err: storeErr})

	_, err := registry.Resolve(context.Background(), "t-1", "P1", []string{"A"})
	if !errors.Is(err, storeErr) {
		t.Errorf("error = %v, want wrapped store error", err)
	}
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"fields": [
			{"name": "Lot No", "type": "text", "required": true},
			{"name": "winder_number", "type": "int", "min": 1, "max": 20},
			{"name": "material", "type": "text", "enum": ["H2", "H5", "H8"]},
			{"name": "appearance", "type": "text"}
		],
		"rules": [
			{"if_field": "appearance", "equals": "NG", "then_required": "notes"}
		]
	}`))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}

	if len(def.Fields) != 4 {
		t.Fatalf("fields = %d, want 4", len(def.Fields))
	}

	spec, ok := def.Field("winder_number")
	if !ok {
		t.Fatal("winder_number spec missing")
	}

	if spec.Type != FieldTypeInt || *spec.Min != 1 || *spec.Max != 20 {
		t.Errorf("winder_number spec = %+v", spec)
	}

	if len(def.Rules) != 1 || def.Rules[0].ThenRequired != "notes" {
		t.Errorf("rules = %+v", def.Rules)
	}
}

func TestParseDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "not json", json: "{"},
		{name: "no fields", json: `{"fields": []}`},
		{name: "empty name", json: `{"fields": [{"name": "", "type": "text"}]}`},
		{name: "duplicate name", json: `{"fields": [{"name": "a", "type": "text"}, {"name": "a", "type": "int"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDefinition([]byte(tt.json)); !errors.Is(err, ErrInvalidSchemaJSON) {
				t.Errorf("error = %v, want ErrInvalidSchemaJSON", err)
			}
		})
	}
}
