package canonicalization

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrDateFormat is returned when a raw date cannot be parsed by any of the
// accepted patterns. Maps to the E_DATE_FORMAT row error code.
var ErrDateFormat = errors.New("invalid date format")

// rocYearOffset converts a Republic of China (Minguo) calendar year to a
// Gregorian year. ROC year 1 is 1912, so every parsed ROC date lands at
// 1912 or later. All ROC arithmetic lives in this package; callers never
// add 1911 themselves.
const rocYearOffset = 1911

// twoDigitYearBase expands YYMMDD years: "24" means 2024.
const twoDigitYearBase = 2000

var (
	// 2024-11-01 or 2024/11/01
	gregorianPattern = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)

	// 241101 (YYMMDD, 20YY)
	packedShortPattern = regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})$`)

	// 114/09/02 (ROC year with separators)
	rocSeparatedPattern = regexp.MustCompile(`^(\d{3})[-/](\d{1,2})[-/](\d{1,2})$`)

	// 1140902 (ROC packed YYYMMDD)
	rocPackedPattern = regexp.MustCompile(`^(\d{3})(\d{2})(\d{2})$`)

	// 114年09月02日 (ROC Chinese form)
	rocChinesePattern = regexp.MustCompile(`^(\d{2,3})年(\d{1,2})月(\d{1,2})日$`)
)

// DateColumns returns the ordered candidate source columns the date
// extractor probes for a table code. First populated column wins.
func DateColumns(tableCode string) []string {
	switch tableCode {
	case "P1":
		return []string{"Production Date"}
	case "P2":
		return []string{"分條時間", "Slitting Time"}
	case "P3":
		return []string{"year-month-day"}
	default:
		return nil
	}
}

// NormalizeDate parses a raw production-date cell into a canonical UTC
// date (midnight). Accepted patterns, first match wins:
//
//	YYYY-MM-DD / YYYY/MM/DD   Gregorian
//	YYMMDD                    20YY
//	YYY/MM/DD (3-digit head)  ROC, year+1911
//	YYYMMDD (7 digits)        ROC packed, year+1911
//	YYY年MM月DD日               ROC Chinese form, year+1911
//
// Values that match no pattern, or match a pattern but do not form a real
// calendar date, return ErrDateFormat.
func NormalizeDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrDateFormat)
	}

	// Excel exports sometimes carry a time-of-day; the date part is all we keep.
	if idx := strings.IndexAny(value, " T"); idx > 0 {
		value = value[:idx]
	}

	if m := gregorianPattern.FindStringSubmatch(value); m != nil {
		return makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), raw)
	}

	if m := rocPackedPattern.FindStringSubmatch(value); m != nil {
		return makeDate(atoi(m[1])+rocYearOffset, atoi(m[2]), atoi(m[3]), raw)
	}

	if m := packedShortPattern.FindStringSubmatch(value); m != nil {
		return makeDate(atoi(m[1])+twoDigitYearBase, atoi(m[2]), atoi(m[3]), raw)
	}

	if m := rocSeparatedPattern.FindStringSubmatch(value); m != nil {
		return makeDate(atoi(m[1])+rocYearOffset, atoi(m[2]), atoi(m[3]), raw)
	}

	if m := rocChinesePattern.FindStringSubmatch(value); m != nil {
		return makeDate(atoi(m[1])+rocYearOffset, atoi(m[2]), atoi(m[3]), raw)
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrDateFormat, raw)
}

// makeDate builds a UTC date and rejects values that normalize to a
// different calendar day (e.g. month 13, day 32).
func makeDate(year, month, day int, raw string) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrDateFormat, raw)
	}

	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || date.Month() != time.Month(month) || date.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrDateFormat, raw)
	}

	return date, nil
}

func atoi(digits string) int {
	n, _ := strconv.Atoi(digits)

	return n
}
