package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/linetrace-io/linetrace/internal/canonicalization"
)

// Fingerprint computes the header fingerprint for a raw header row:
// sha256 over the JSON encoding of the ordered, canonicalized cells.
//
// JSON encoding (rather than joining with a separator) makes the digest
// unambiguous for cells that themselves contain separator characters.
func Fingerprint(headerRow []string) string {
	canonical := canonicalization.CanonicalizeHeader(headerRow)

	// Marshal of []string cannot fail.
	encoded, _ := json.Marshal(canonical)
	digest := sha256.Sum256(encoded)

	return hex.EncodeToString(digest[:])
}
