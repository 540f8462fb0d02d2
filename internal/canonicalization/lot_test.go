package canonicalization

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeLotNo(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantNorm      int64
		wantCanonical string
	}{
		{
			name:          "canonical form",
			input:         "2507173_02",
			wantNorm:      250717302,
			wantCanonical: "2507173_02",
		},
		{
			name:          "dash separator",
			input:         "2507173-02",
			wantNorm:      250717302,
			wantCanonical: "2507173_02",
		},
		{
			name:          "embedded whitespace",
			input:         " 2507173 02 ",
			wantNorm:      250717302,
			wantCanonical: "2507173_02",
		},
		{
			name:          "bare digits",
			input:         "250717302",
			wantNorm:      250717302,
			wantCanonical: "2507173_02",
		},
		{
			name:          "short lot left-padded",
			input:         "12345",
			wantNorm:      12345,
			wantCanonical: "0012345_45",
		},
		{
			name:          "eighteen digits accepted",
			input:         "123456789012345678",
			wantNorm:      123456789012345678,
			wantCanonical: "1234567_78",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lot, err := NormalizeLotNo(tt.input)
			if err != nil {
				t.Fatalf("NormalizeLotNo(%q) returned error: %v", tt.input, err)
			}

			if lot.Norm != tt.wantNorm {
				t.Errorf("Norm = %d, want %d", lot.Norm, tt.wantNorm)
			}

			if lot.Canonical != tt.wantCanonical {
				t.Errorf("Canonical = %q, want %q", lot.Canonical, tt.wantCanonical)
			}
		})
	}
}

func TestNormalizeLotNoErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "separators only", input: "_-_"},
		{name: "letters", input: "LOT2507173"},
		{name: "nineteen digits", input: strings.Repeat("9", 19)},
		{name: "decimal point", input: "250717.302"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeLotNo(tt.input); !errors.Is(err, ErrLotFormat) {
				t.Errorf("NormalizeLotNo(%q) error = %v, want ErrLotFormat", tt.input, err)
			}
		})
	}
}

// Canonicalization must be a fixed point: normalizing a canonical form
// yields the same canonical form.
func TestNormalizeLotNoIdempotent(t *testing.T) {
	inputs := []string{"2507173_02", "2507173-02", "250717302", "12345", "1", "123456789012345678"}

	for _, input := range inputs {
		first, err := NormalizeLotNo(input)
		if err != nil {
			t.Fatalf("NormalizeLotNo(%q): %v", input, err)
		}

		second, err := NormalizeLotNo(first.Canonical)
		if err != nil {
			t.Fatalf("NormalizeLotNo(%q): %v", first.Canonical, err)
		}

		if second.Canonical != first.Canonical {
			t.Errorf("canonical not idempotent for %q: %q != %q", input, second.Canonical, first.Canonical)
		}
	}
}

func TestNormalizeP3LotNo(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		wantCanonical string
	}{
		{
			name:          "winder suffix stripped",
			input:         "2507173_02_15",
			wantCanonical: "2507173_02",
		},
		{
			name:          "single digit winder suffix",
			input:         "2507173_02_3",
			wantCanonical: "2507173_02",
		},
		{
			name:          "no suffix passes through",
			input:         "2507173_02",
			wantCanonical: "2507173_02",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lot, err := NormalizeP3LotNo(tt.input)
			if err != nil {
				t.Fatalf("NormalizeP3LotNo(%q): %v", tt.input, err)
			}

			if lot.Canonical != tt.wantCanonical {
				t.Errorf("Canonical = %q, want %q", lot.Canonical, tt.wantCanonical)
			}
		})
	}
}

func TestExtractSourceWinder(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   int
		wantOK bool
	}{
		{name: "two digit winder", input: "2507173_02_15", want: 15, wantOK: true},
		{name: "single digit winder", input: "2507173_02_7", want: 7, wantOK: true},
		{name: "tail is not a winder", input: "2507173_02", wantOK: false},
		{name: "bare digits", input: "250717302", wantOK: false},
		{name: "three digit suffix rejected", input: "2507173_02_123", wantOK: false},
		{name: "non numeric suffix", input: "2507173_02_AB", wantOK: false},
		{name: "empty trailing segment", input: "2507173_02_", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractSourceWinder(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ExtractSourceWinder(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}

			if ok && got != tt.want {
				t.Errorf("ExtractSourceWinder(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
