// Package canonicalization normalizes lot numbers, production dates, and
// header rows so that every join, uniqueness check, and search in the
// service operates on a single canonical form.
package canonicalization

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// maxLotDigits is the upper bound on digits in a lot number after
	// separator stripping. 18 digits is the largest decimal width that
	// always fits an int64.
	maxLotDigits = 18

	lotHeadWidth = 7
	lotTailWidth = 2

	// winder suffix is a third "_NN" segment with 1-2 digits.
	maxWinderDigits = 2
)

// ErrLotFormat is returned when a raw lot number cannot be normalized.
// Maps to the E_LOT_FORMAT row error code at the validation boundary.
var ErrLotFormat = errors.New("invalid lot number format")

// Lot is the canonical representation of a factory lot number.
//
// Norm is the authoritative join key: the digit string with separators
// stripped, parsed as int64. Canonical is the display form
// HEAD_TAIL where HEAD is the first seven digits (left-padded with '0')
// and TAIL is the last two digits (left-padded).
type Lot struct {
	Norm      int64
	Canonical string
}

// NormalizeLotNo canonicalizes a raw lot number.
//
// Separators ('-', '_', whitespace) are stripped; the remainder must be
// all digits and at most 18 digits long. Normalization is idempotent on
// the canonical form: NormalizeLotNo(lot.Canonical).Canonical == lot.Canonical.
func NormalizeLotNo(raw string) (Lot, error) {
	digits := stripSeparators(raw)
	if digits == "" {
		return Lot{}, fmt.Errorf("%w: %q has no digits", ErrLotFormat, raw)
	}

	if len(digits) > maxLotDigits {
		return Lot{}, fmt.Errorf("%w: %q exceeds %d digits", ErrLotFormat, raw, maxLotDigits)
	}

	for _, r := range digits {
		if r < '0' || r > '9' {
			return Lot{}, fmt.Errorf("%w: %q contains non-digit %q", ErrLotFormat, raw, r)
		}
	}

	norm, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return Lot{}, fmt.Errorf("%w: %q: %w", ErrLotFormat, raw, err)
	}

	return Lot{Norm: norm, Canonical: canonicalForm(digits)}, nil
}

// NormalizeP3LotNo canonicalizes a P3 lot number, which may carry an
// optional third "_NN" segment pointing at the roll collector (winder)
// the item consumed. The suffix is stripped before normalization so the
// resulting lot joins back to its P2/P1 parents.
func NormalizeP3LotNo(raw string) (Lot, error) {
	return NormalizeLotNo(stripWinderSuffix(raw))
}

// ExtractSourceWinder returns the winder number encoded as a trailing
// "_NN" third segment of a raw lot number, or (0, false) when absent.
//
// Only a third segment qualifies: the "_TT" tail of the canonical
// HEAD_TAIL form is part of the lot number itself, never a winder.
func ExtractSourceWinder(raw string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	if len(parts) < 3 {
		return 0, false
	}

	last := parts[len(parts)-1]
	if last == "" || len(last) > maxWinderDigits {
		return 0, false
	}

	winder, err := strconv.Atoi(last)
	if err != nil {
		return 0, false
	}

	return winder, true
}

// stripWinderSuffix removes a trailing "_NN" third segment if present.
func stripWinderSuffix(raw string) string {
	if _, ok := ExtractSourceWinder(raw); !ok {
		return raw
	}

	trimmed := strings.TrimSpace(raw)
	idx := strings.LastIndex(trimmed, "_")

	return trimmed[:idx]
}

// stripSeparators removes '-', '_', and whitespace from a raw lot number.
func stripSeparators(raw string) string {
	var b strings.Builder

	b.Grow(len(raw))

	for _, r := range raw {
		switch r {
		case '-', '_', ' ', '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// canonicalForm renders a stripped digit string as HEAD_TAIL.
//
// HEAD is the first seven digits and TAIL the last two, each left-padded
// with '0'. The padded form always strips back to exactly nine digits,
// which is what makes canonicalization idempotent.
func canonicalForm(digits string) string {
	head := digits
	if len(head) > lotHeadWidth {
		head = head[:lotHeadWidth]
	}

	tail := digits
	if len(tail) > lotTailWidth {
		tail = tail[len(tail)-lotTailWidth:]
	}

	return padDigits(head, lotHeadWidth) + "_" + padDigits(tail, lotTailWidth)
}

// padDigits left-pads a digit string with '0' to the requested width.
func padDigits(digits string, width int) string {
	if len(digits) >= width {
		return digits
	}

	return strings.Repeat("0", width-len(digits)) + digits
}
