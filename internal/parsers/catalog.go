package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// Standard catalog column names
const (
	ColumnItemCode    = "item_code"
	ColumnDescription = "description"
	ColumnUnit        = "unit"
	ColumnUnitPrice   = "unit_price"
)

// RequiredCatalogColumns must be present in every catalog header
var RequiredCatalogColumns = []string{ColumnItemCode, ColumnDescription, ColumnUnitPrice}

// CatalogConfig holds configuration for reading pricing catalogs
type CatalogConfig struct {
	// Sheet selects the worksheet of an XLSX catalog. Empty means the first sheet.
	Sheet string `json:"sheet,omitempty" mapstructure:"sheet"`

	// Delimiter is the CSV field separator.
	Delimiter rune `json:"delimiter" mapstructure:"delimiter"`

	// ColumnAliases lists accepted header spellings per standard column.
	// Headers are compared after NormalizeKey.
	ColumnAliases map[string][]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// DefaultCatalogConfig returns a configuration accepting common header variants
func DefaultCatalogConfig() *CatalogConfig {
	return &CatalogConfig{
		Delimiter: ',',
		ColumnAliases: map[string][]string{
			ColumnItemCode:    {"code", "sku", "item_no", "item_number", "رمز_الصنف"},
			ColumnDescription: {"item_description", "item", "name", "الوصف", "البند"},
			ColumnUnit:        {"uom", "unit_of_measure", "الوحدة"},
			ColumnUnitPrice:   {"price", "base_price", "unit_cost", "السعر", "سعر_الوحدة"},
		},
	}
}

// Validate checks if the catalog configuration is valid
func (c *CatalogConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid CSV delimiter %q", c.Delimiter)
	}
	return nil
}

// columnIndex resolves a standard column against the normalised header row
func (c *CatalogConfig) columnIndex(headers []string, standard string) int {
	names := append([]string{standard}, c.ColumnAliases[standard]...)
	for _, name := range names {
		want := NormalizeKey(name)
		for i, h := range headers {
			if h == want {
				return i
			}
		}
	}
	return -1
}

// CatalogParser loads pricing catalogs from CSV or XLSX files
type CatalogParser struct {
	config *CatalogConfig
	logger logger.Logger
}

// NewCatalogParser creates a parser; a nil config uses DefaultCatalogConfig
func NewCatalogParser(config *CatalogConfig) (*CatalogParser, error) {
	if config == nil {
		config = DefaultCatalogConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "catalog", config.Delimiter, err)
	}

	return &CatalogParser{
		config: config,
		logger: logger.WithComponent("catalog_parser"),
	}, nil
}

// ParseFile loads a catalog, choosing the reader by file extension
func (cp *CatalogParser) ParseFile(path string) (models.Catalog, *ParseStats, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = cp.readCSV(path)
	case ".xlsx", ".xlsm":
		rows, err = cp.readXLSX(path)
	default:
		return nil, nil, errors.FileError(errors.CodeUnsupported, path, nil)
	}
	if err != nil {
		return nil, nil, err
	}

	catalog, stats, err := cp.parseRows(path, rows)
	if err != nil {
		return nil, nil, err
	}

	cp.logger.WithFields(logger.Fields{
		"file":    path,
		"entries": len(catalog),
		"skipped": stats.RowsSkipped,
	}).Info("catalog loaded")
	if stats.HasErrors() {
		cp.logger.WithField("samples", stats.SampleErrors(3)).Warn("some catalog rows were skipped")
	}

	return catalog, stats, nil
}

func (cp *CatalogParser) readCSV(path string) ([][]string, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = cp.config.Delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		line := 0
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			line = perr.Line
		}
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, line, "", "", err)
	}
	return rows, nil
}

func (cp *CatalogParser) readXLSX(path string) ([][]string, error) {
	if err := statFile(path); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer f.Close()

	sheet := cp.config.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", fmt.Errorf("workbook has no sheets"))
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "sheet", sheet, err)
	}
	return rows, nil
}

// parseRows turns a header row plus data rows into catalog entries
func (cp *CatalogParser) parseRows(path string, rows [][]string) (models.Catalog, *ParseStats, error) {
	stats := NewParseStats()
	if len(rows) == 0 {
		return nil, nil, errors.ParseError(errors.CodeMissingColumn, path, 1, strings.Join(RequiredCatalogColumns, ", "), "", fmt.Errorf("catalog is empty"))
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = NormalizeKey(strings.TrimPrefix(h, "\ufeff"))
	}

	index := make(map[string]int, 4)
	for _, col := range []string{ColumnItemCode, ColumnDescription, ColumnUnit, ColumnUnitPrice} {
		index[col] = cp.config.columnIndex(headers, col)
	}
	for _, col := range RequiredCatalogColumns {
		if index[col] < 0 {
			return nil, nil, errors.ParseError(errors.CodeMissingColumn, path, 1, col, "", nil).
				WithContext("available_headers", headers)
		}
	}

	cell := func(row []string, col string) string {
		i := index[col]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	catalog := make(models.Catalog, 0, len(rows)-1)
	for n, row := range rows[1:] {
		line := n + 2
		if isBlankRow(row) {
			continue
		}
		stats.TotalRows++

		raw := cell(row, ColumnUnitPrice)
		price, err := models.ParseAmount(raw)
		if err != nil {
			stats.Skip(errors.ParseError(errors.CodeInvalidData, path, line, ColumnUnitPrice, raw, err))
			continue
		}
		if price.IsNegative() {
			stats.Skip(errors.ValidationError(errors.CodeInvalidAmount, ColumnUnitPrice, raw, nil).
				WithContext("file", path).
				WithContext("line", line))
			continue
		}

		catalog = append(catalog, models.CatalogEntry{
			ItemCode:    cell(row, ColumnItemCode),
			Description: cell(row, ColumnDescription),
			Unit:        cell(row, ColumnUnit),
			UnitPrice:   price,
		})
		stats.RowsLoaded++
	}

	return catalog, stats, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
