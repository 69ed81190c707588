package parsers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"invoice-variance-service/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestCatalogParserCSV(t *testing.T) {
	path := writeFile(t, "catalog.csv", "\xef\xbb\xbfItem Code,Description,Unit,Unit Price\n"+
		"C-001,Cement Bag,bag,25.50\n"+
		"S-012,Steel Bar,pcs,\"1,200.00\"\n"+
		",,,\n"+
		"X-999,Broken,pcs,n/a\n")

	parser, err := NewCatalogParser(nil)
	if err != nil {
		t.Fatalf("NewCatalogParser: %v", err)
	}

	catalog, stats, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if len(catalog) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(catalog), catalog)
	}
	if catalog[0].ItemCode != "C-001" || catalog[0].Description != "Cement Bag" || catalog[0].Unit != "bag" {
		t.Errorf("entry 0 = %+v", catalog[0])
	}
	if !catalog[1].UnitPrice.Equal(dec("1200")) {
		t.Errorf("entry 1 price = %s, want 1200", catalog[1].UnitPrice)
	}

	if stats.TotalRows != 3 || stats.RowsLoaded != 2 || stats.RowsSkipped != 1 {
		t.Errorf("stats = %s", stats)
	}
	if !stats.HasErrors() || stats.Errors[0].Context["line"] != 5 {
		t.Errorf("expected row error at line 5, got %+v", stats.Errors)
	}
}

func TestCatalogParserRejectsNegativePrice(t *testing.T) {
	path := writeFile(t, "catalog.csv", "item_code,description,unit_price\n"+
		"C-001,Cement Bag,25.00\n"+
		"R-100,Rebar,-100.00\n")

	parser, err := NewCatalogParser(nil)
	if err != nil {
		t.Fatalf("NewCatalogParser: %v", err)
	}

	catalog, stats, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(catalog) != 1 || catalog[0].ItemCode != "C-001" {
		t.Errorf("catalog = %+v", catalog)
	}
	if stats.RowsSkipped != 1 || !errors.IsCode(stats.Errors[0], errors.CodeInvalidAmount) {
		t.Fatalf("expected one invalid amount, got %+v", stats.Errors)
	}
	if stats.Errors[0].Category != errors.CategoryValidation || stats.Errors[0].Context["line"] != 3 {
		t.Errorf("unexpected error %+v", stats.Errors[0])
	}
}

func TestCatalogParserAliases(t *testing.T) {
	path := writeFile(t, "catalog.csv", "sku;item description;base price\nA1;Rebar;3.25\n")

	config := DefaultCatalogConfig()
	config.Delimiter = ';'
	parser, err := NewCatalogParser(config)
	if err != nil {
		t.Fatalf("NewCatalogParser: %v", err)
	}

	catalog, _, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(catalog) != 1 || catalog[0].ItemCode != "A1" || catalog[0].Description != "Rebar" || !catalog[0].UnitPrice.Equal(dec("3.25")) {
		t.Errorf("catalog = %+v", catalog)
	}
}

func TestCatalogParserErrors(t *testing.T) {
	tests := []struct {
		name     string
		path     func(t *testing.T) string
		wantCode errors.ErrorCode
	}{
		{
			name: "missing unit_price column",
			path: func(t *testing.T) string {
				return writeFile(t, "catalog.csv", "item_code,description,unit\nC1,Cement,bag\n")
			},
			wantCode: errors.CodeMissingColumn,
		},
		{
			name: "empty file",
			path: func(t *testing.T) string {
				return writeFile(t, "catalog.csv", "")
			},
			wantCode: errors.CodeMissingColumn,
		},
		{
			name: "file not found",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.csv")
			},
			wantCode: errors.CodeFileNotFound,
		},
		{
			name: "unsupported extension",
			path: func(t *testing.T) string {
				return writeFile(t, "catalog.pdf", "x")
			},
			wantCode: errors.CodeUnsupported,
		},
		{
			name: "xlsx not found",
			path: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.xlsx")
			},
			wantCode: errors.CodeFileNotFound,
		},
	}

	parser, _ := NewCatalogParser(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parser.ParseFile(tt.path(t))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestCatalogParserXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"item_code", "description", "unit", "unit_price"},
		{"C-001", "Cement Bag", "bag", 25.5},
		{"C-002", "Cement Type II", "bag", 31},
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				t.Fatalf("SetCellValue: %v", err)
			}
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	_ = f.Close()

	parser, _ := NewCatalogParser(nil)
	catalog, stats, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if stats.RowsLoaded != 2 {
		t.Errorf("RowsLoaded = %d, want 2", stats.RowsLoaded)
	}
	if len(catalog) != 2 || catalog[1].Description != "Cement Type II" || !catalog[0].UnitPrice.Equal(dec("25.5")) {
		t.Errorf("catalog = %+v", catalog)
	}
}

func TestCatalogConfigValidate(t *testing.T) {
	config := DefaultCatalogConfig()
	config.Delimiter = '"'
	if _, err := NewCatalogParser(config); err == nil {
		t.Error("expected invalid delimiter to be rejected")
	}
}
