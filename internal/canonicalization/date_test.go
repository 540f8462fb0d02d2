package canonicalization

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // YYYY-MM-DD
	}{
		{name: "gregorian dash", input: "2024-11-01", want: "2024-11-01"},
		{name: "gregorian slash", input: "2024/11/01", want: "2024-11-01"},
		{name: "gregorian single digit parts", input: "2024/9/2", want: "2024-09-02"},
		{name: "packed short YYMMDD", input: "241101", want: "2024-11-01"},
		{name: "roc separated", input: "114/09/02", want: "2025-09-02"},
		{name: "roc separated dash", input: "114-09-02", want: "2025-09-02"},
		{name: "roc packed", input: "1140902", want: "2025-09-02"},
		{name: "roc chinese", input: "114年09月02日", want: "2025-09-02"},
		{name: "roc chinese short year", input: "99年1月5日", want: "2010-01-05"},
		{name: "surrounding whitespace", input: " 2024-11-01 ", want: "2024-11-01"},
		{name: "trailing time of day dropped", input: "2024-11-01 08:30", want: "2024-11-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDate(tt.input)
			if err != nil {
				t.Fatalf("NormalizeDate(%q): %v", tt.input, err)
			}

			if formatted := got.Format("2006-01-02"); formatted != tt.want {
				t.Errorf("NormalizeDate(%q) = %s, want %s", tt.input, formatted, tt.want)
			}
		})
	}
}

func TestNormalizeDateErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "free text", input: "yesterday"},
		{name: "month thirteen", input: "2024-13-01"},
		{name: "day thirty two", input: "2024/01/32"},
		{name: "roc month overflow", input: "1141302"},
		{name: "five digits", input: "24110"},
		{name: "nonexistent day", input: "2023-02-29"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NormalizeDate(tt.input); !errors.Is(err, ErrDateFormat) {
				t.Errorf("NormalizeDate(%q) error = %v, want ErrDateFormat", tt.input, err)
			}
		})
	}
}

// Every date parsed under an ROC rule lands in the Gregorian calendar at
// 1912 or later (ROC year 1 = 1912).
func TestNormalizeDateROCFloor(t *testing.T) {
	inputs := []string{"001/01/01", "0010101", "01年01月01日", "114/09/02", "1140902"}

	for _, input := range inputs {
		got, err := NormalizeDate(input)
		if err != nil {
			t.Fatalf("NormalizeDate(%q): %v", input, err)
		}

		if got.Year() < 1912 {
			t.Errorf("NormalizeDate(%q).Year() = %d, want >= 1912", input, got.Year())
		}
	}
}

func TestNormalizeDateIsUTCMidnight(t *testing.T) {
	got, err := NormalizeDate("2024-11-01")
	if err != nil {
		t.Fatal(err)
	}

	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}

	if got.Hour() != 0 || got.Minute() != 0 || got.Second() != 0 {
		t.Errorf("time of day = %v, want midnight", got)
	}
}

func TestDateColumns(t *testing.T) {
	tests := []struct {
		tableCode string
		want      []string
	}{
		{tableCode: "P1", want: []string{"Production Date"}},
		{tableCode: "P2", want: []string{"分條時間", "Slitting Time"}},
		{tableCode: "P3", want: []string{"year-month-day"}},
		{tableCode: "P9", want: nil},
	}

	for _, tt := range tests {
		got := DateColumns(tt.tableCode)
		if len(got) != len(tt.want) {
			t.Fatalf("DateColumns(%q) = %v, want %v", tt.tableCode, got, tt.want)
		}

		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("DateColumns(%q)[%d] = %q, want %q", tt.tableCode, i, got[i], tt.want[i])
			}
		}
	}
}
