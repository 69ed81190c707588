// Package parsers turns external inputs into the in-memory shapes the
// reconciliation core works on.
//
// Two kinds of input are handled here:
//   - invoice text, which is mined for header fields (FieldExtractor) and
//     an item table (TableExtractor) using bilingual English/Arabic patterns
//   - pricing catalogs, loaded from CSV or XLSX files (CatalogParser)
//
// Invoice documents themselves are read by LoadInvoiceDocument, which accepts
// either the raw extracted text or a JSON envelope carrying the text and an
// optional structured key/value blob.
//
// Text extraction never fails: a label that is absent, a date in an unknown
// layout or a table row with garbage numbers only reduces what is returned.
// File loading on the other hand reports missing files, unsupported formats
// and missing catalog columns as *errors.AppError values.
package parsers

import (
	"fmt"
	"os"
	"strings"

	"invoice-variance-service/pkg/errors"
)

// ParseStats holds statistics about a catalog loading operation
type ParseStats struct {
	TotalRows   int
	RowsLoaded  int
	RowsSkipped int
	Errors      []*errors.AppError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{
		Errors: make([]*errors.AppError, 0),
	}
}

// Skip records a row that could not be used
func (ps *ParseStats) Skip(err *errors.AppError) {
	ps.RowsSkipped++
	if err != nil {
		ps.Errors = append(ps.Errors, err)
	}
}

// HasErrors returns true if any row was rejected with an error
func (ps *ParseStats) HasErrors() bool {
	return len(ps.Errors) > 0
}

func (ps *ParseStats) String() string {
	return fmt.Sprintf("Read %d rows, %d loaded, %d skipped",
		ps.TotalRows, ps.RowsLoaded, ps.RowsSkipped)
}

// SampleErrors returns up to maxSamples error messages for logging
func (ps *ParseStats) SampleErrors(maxSamples int) []string {
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for _, err := range ps.Errors[:limit] {
		samples = append(samples, err.Error())
	}
	return samples
}

// readFile reads a whole file, classifying the failure
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}

	switch {
	case os.IsNotExist(err):
		return nil, errors.FileError(errors.CodeFileNotFound, path, err)
	case os.IsPermission(err):
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	default:
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
}

// statFile checks a file exists and is readable before a library opens it
func statFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return errors.FileError(errors.CodeFilePermission, path, err)
		}
		return errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeUnsupported, path, fmt.Errorf("is a directory"))
	}
	return nil
}

// NormalizeKey lowercases a header or blob key, trims it and replaces
// inner whitespace with underscores.
func NormalizeKey(key string) string {
	return strings.Join(strings.Fields(strings.ToLower(key)), "_")
}
