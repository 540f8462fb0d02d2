package ingestion

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/linetrace-io/linetrace/internal/canonicalization"
)

// Sentinel errors for file parsing.
var (
	// ErrUnsupportedFormat is returned for file extensions outside
	// {.csv, .xlsx}. Legacy .xls is rejected explicitly.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrFileTooLarge is returned when a file exceeds the configured
	// upload size limit. Surfaces as E_INTERNAL on the job.
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")

	// ErrEmptyFile is returned when a file has no header row.
	ErrEmptyFile = errors.New("file has no header row")
)

type (
	// Parser turns uploaded CSV/XLSX bytes into a header row plus staging
	// rows. No type coercion happens here — parsed cells stay raw strings
	// keyed by canonical header name; coercion is the validator's job.
	Parser struct {
		maxSizeBytes int64
	}

	// ParsedFile is the output of parsing one file.
	ParsedFile struct {
		Header    []string // canonicalized, in source order
		Rows      []ParsedRow
		SHA256    string
		SizeBytes int64
	}

	// ParsedRow is one non-blank data row.
	//
	// RowIndex is 1-based over the non-blank data rows of the source:
	// blank lines are skipped and do not advance the index. This holds
	// for both CSV and XLSX inputs.
	ParsedRow struct {
		RowIndex int
		Cells    map[string]string
	}
)

// NewParser creates a Parser enforcing the given size limit. A file of
// exactly maxSizeBytes is accepted; one byte over is rejected.
func NewParser(maxSizeBytes int64) *Parser {
	return &Parser{maxSizeBytes: maxSizeBytes}
}

// DetectFormat maps a filename to its FileFormat.
func DetectFormat(filename string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".xls":
		return "", fmt.Errorf("%w: legacy .xls is not supported, convert to .xlsx", ErrUnsupportedFormat)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Parse reads one file, computing its SHA-256 as bytes stream through the
// decoder (no second pass over the file). Returns ErrFileTooLarge when the
// input exceeds the configured limit.
func (p *Parser) Parse(r io.Reader, format FileFormat) (*ParsedFile, error) {
	hasher := sha256.New()
	counted := &countingReader{inner: io.TeeReader(r, hasher), limit: p.maxSizeBytes}

	var (
		records [][]string
		err     error
	)

	switch format {
	case FormatCSV:
		records, err = readCSV(counted)
	case FormatXLSX:
		records, err = readXLSX(counted)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, p.maxSizeBytes)
		}

		return nil, err
	}

	// Drain any remaining bytes so the hash covers the whole file even if
	// the decoder stopped early (XLSX central directory quirks).
	if _, err := io.Copy(io.Discard, counted); err != nil {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, p.maxSizeBytes)
	}

	header, rows, err := splitHeaderAndRows(records)
	if err != nil {
		return nil, err
	}

	return &ParsedFile{
		Header:    header,
		Rows:      rows,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		SizeBytes: counted.read,
	}, nil
}

// readCSV decodes CSV with a UTF-8 BOM tolerated and ragged rows allowed.
func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}

		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}

	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\uFEFF")
	}

	return records, nil
}

// readXLSX decodes the first sheet of an XLSX workbook.
//
// The XLSX container is a zip archive, so decoding needs the full byte
// range; the size limit bounds how much is buffered.
func readXLSX(r io.Reader) ([][]string, error) {
	var buf bytes.Buffer

	if _, err := buf.ReadFrom(r); err != nil {
		if errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}

		return nil, fmt.Errorf("failed to read XLSX: %w", err)
	}

	workbook, err := excelize.OpenReader(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX: %w", err)
	}

	defer func() {
		_ = workbook.Close()
	}()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}

	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read XLSX rows: %w", err)
	}

	return rows, nil
}

// splitHeaderAndRows canonicalizes the first non-blank record as the
// header and maps every following non-blank record to cells keyed by
// canonical header name. Cells beyond the header width are dropped;
// missing trailing cells read as "".
func splitHeaderAndRows(records [][]string) ([]string, []ParsedRow, error) {
	var header []string

	rows := make([]ParsedRow, 0, len(records))
	rowIndex := 0

	for _, record := range records {
		if isBlankRecord(record) {
			continue
		}

		if header == nil {
			header = canonicalization.CanonicalizeHeader(record)

			continue
		}

		rowIndex++

		cells := make(map[string]string, len(header))

		for i, name := range header {
			if i < len(record) {
				cells[name] = record[i]
			} else {
				cells[name] = ""
			}
		}

		rows = append(rows, ParsedRow{RowIndex: rowIndex, Cells: cells})
	}

	if header == nil {
		return nil, nil, ErrEmptyFile
	}

	return header, rows, nil
}

// isBlankRecord reports whether every cell is empty after trimming.
func isBlankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}

	return true
}

// countingReader counts bytes and fails past the limit with ErrFileTooLarge.
type countingReader struct {
	inner io.Reader
	limit int64
	read  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.inner.Read(p)
	c.read += int64(n)

	if c.limit > 0 && c.read > c.limit {
		return n, ErrFileTooLarge
	}

	return n, err //nolint:wrapcheck // transparent reader passthrough
}
