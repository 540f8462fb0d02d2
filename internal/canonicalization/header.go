package canonicalization

import (
	"regexp"
	"strings"
)

var internalWhitespace = regexp.MustCompile(`\s+`)

// CanonicalizeHeader canonicalizes a raw header row for fingerprinting and
// schema matching: each cell is trimmed and internal runs of whitespace
// collapse to a single space. Comparison stays case-sensitive — "Production
// Date" and "production date" are different schemas on purpose.
func CanonicalizeHeader(cells []string) []string {
	canonical := make([]string, len(cells))
	for i, cell := range cells {
		canonical[i] = CanonicalizeHeaderCell(cell)
	}

	return canonical
}

// CanonicalizeHeaderCell canonicalizes a single header cell.
func CanonicalizeHeaderCell(cell string) string {
	return internalWhitespace.ReplaceAllString(strings.TrimSpace(cell), " ")
}
