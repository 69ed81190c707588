package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/store"
	"invoice-variance-service/pkg/errors"
)

var (
	testCatalog  = filepath.Join("..", "..", "..", "testdata", "catalog.csv")
	testInvoices = filepath.Join("..", "..", "..", "testdata", "invoices")
)

// setFlags resets viper and applies the given settings on top of the
// defaults the root command would provide
func setFlags(t *testing.T, settings map[string]interface{}) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	defaults := map[string]interface{}{
		"tolerance":     0.05,
		"concurrency":   2,
		"output-format": "console",
	}
	for key, value := range defaults {
		viper.Set(key, value)
	}
	for key, value := range settings {
		viper.Set(key, value)
	}
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := filepath.Join(tmpDir, "catalog.csv")
	if err := os.WriteFile(validFile, []byte("item_code,description,unit_price\n"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name     string
		filePath string
		code     errors.ErrorCode
	}{
		{"valid file", validFile, ""},
		{"empty path", "", errors.CodeEmptyInput},
		{"non-existent file", "/non/existent/catalog.csv", errors.CodeFileNotFound},
		{"directory instead of file", tmpDir, errors.CodeUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "pricing catalog")

			if tt.code == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("expected %s error, got %v", tt.code, err)
			}
		})
	}
}

func TestExpandInvoicePaths(t *testing.T) {
	emptyDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(emptyDir, "notes.md"), []byte("# notes"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	single := filepath.Join(testInvoices, "inv-2024-01.txt")

	tests := []struct {
		name  string
		paths []string
		want  []string
		code  errors.ErrorCode
	}{
		{
			name:  "directory in name order",
			paths: []string{testInvoices},
			want: []string{
				filepath.Join(testInvoices, "inv-2024-01.txt"),
				filepath.Join(testInvoices, "inv-2024-02.txt"),
				filepath.Join(testInvoices, "inv-2024-03.json"),
			},
		},
		{
			name:  "file kept as given",
			paths: []string{" " + single + " ", ""},
			want:  []string{single},
		},
		{
			name:  "missing path",
			paths: []string{"/non/existent/invoice.txt"},
			code:  errors.CodeFileNotFound,
		},
		{
			name:  "directory without invoices",
			paths: []string{emptyDir},
			code:  errors.CodeEmptyInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandInvoicePaths(tt.paths)
			if tt.code != "" {
				if !errors.IsCode(err, tt.code) {
					t.Fatalf("expected %s error, got %v", tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestValidateReconcileFlags(t *testing.T) {
	tests := []struct {
		name          string
		settings      map[string]interface{}
		errorContains string
	}{
		{
			name: "valid flags",
			settings: map[string]interface{}{
				"catalog":  testCatalog,
				"invoices": []string{testInvoices},
			},
		},
		{
			name: "missing catalog",
			settings: map[string]interface{}{
				"invoices": []string{testInvoices},
			},
			errorContains: "missing required configuration: catalog",
		},
		{
			name: "missing invoices",
			settings: map[string]interface{}{
				"catalog": testCatalog,
			},
			errorContains: "missing required configuration: invoices",
		},
		{
			name: "invalid output format",
			settings: map[string]interface{}{
				"catalog":       testCatalog,
				"invoices":      []string{testInvoices},
				"output-format": "xml",
			},
			errorContains: "invalid configuration for 'output-format'",
		},
		{
			name: "tolerance above one",
			settings: map[string]interface{}{
				"catalog":   testCatalog,
				"invoices":  []string{testInvoices},
				"tolerance": 5.0,
			},
			errorContains: "invalid configuration for 'tolerance'",
		},
		{
			name: "zero concurrency",
			settings: map[string]interface{}{
				"catalog":     testCatalog,
				"invoices":    []string{testInvoices},
				"concurrency": 0,
			},
			errorContains: "invalid configuration for 'concurrency'",
		},
		{
			name: "missing output directory",
			settings: map[string]interface{}{
				"catalog":     testCatalog,
				"invoices":    []string{testInvoices},
				"output-file": "/non/existent/dir/report.json",
			},
			errorContains: "file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(t, tt.settings)

			err := validateReconcileFlags(&cobra.Command{}, []string{})

			if tt.errorContains == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q but got none", tt.errorContains)
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("expected error to contain '%s', got: %v", tt.errorContains, err)
			}
		})
	}
}

func TestValidateTrendFlags(t *testing.T) {
	storeFile := filepath.Join(t.TempDir(), "history.db")
	if err := os.WriteFile(storeFile, nil, 0644); err != nil {
		t.Fatalf("failed to create store file: %v", err)
	}

	tests := []struct {
		name     string
		settings map[string]interface{}
		code     errors.ErrorCode
	}{
		{"store", map[string]interface{}{"store": storeFile}, ""},
		{"ad hoc invoices", map[string]interface{}{"catalog": testCatalog, "invoices": []string{testInvoices}}, ""},
		{"nothing to analyse", nil, errors.CodeMissingConfig},
		{"store missing", map[string]interface{}{"store": "/non/existent/history.db"}, errors.CodeFileNotFound},
		{"store and invoices", map[string]interface{}{"store": storeFile, "invoices": []string{testInvoices}}, errors.CodeConfigConflict},
		{"bad start date", map[string]interface{}{"store": storeFile, "start-date": "01/01/2024"}, errors.CodeInvalidDate},
		{"reversed range", map[string]interface{}{"store": storeFile, "start-date": "2024-02-01", "end-date": "2024-01-01"}, errors.CodeOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setFlags(t, tt.settings)

			err := validateTrendFlags(&cobra.Command{}, []string{})
			if tt.code == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.IsCode(err, tt.code) {
				t.Errorf("expected %s error, got %v", tt.code, err)
			}
		})
	}
}

func TestValidateExtractFlags(t *testing.T) {
	setFlags(t, map[string]interface{}{"invoices": []string{testInvoices}, "output-format": "csv"})
	if err := validateExtractFlags(&cobra.Command{}, nil); !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("expected csv to be rejected for extract, got %v", err)
	}

	setFlags(t, map[string]interface{}{"invoices": []string{testInvoices}, "output-format": "json"})
	if err := validateExtractFlags(&cobra.Command{}, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReconcileCommandHelp(t *testing.T) {
	var helpOutput bytes.Buffer
	reconcileCmd.SetOut(&helpOutput)
	defer reconcileCmd.SetOut(nil)
	reconcileCmd.Help()

	helpText := helpOutput.String()

	expectedSections := []string{
		"Usage:",
		"Examples:",
		"Global Flags:",
		"--catalog",
		"--invoices",
		"--tolerance",
		"--output-format",
		"--store",
	}

	for _, section := range expectedSections {
		if !strings.Contains(helpText, section) {
			t.Errorf("help text should contain '%s'", section)
		}
	}
}

func TestFlagBinding(t *testing.T) {
	persistent := []string{
		"config", "verbose", "log-level", "log-format",
		"catalog", "catalog-sheet", "invoices", "tolerance", "concurrency", "store",
		"output-format", "output-file",
	}
	for _, name := range persistent {
		t.Run(name, func(t *testing.T) {
			if rootCmd.PersistentFlags().Lookup(name) == nil {
				t.Errorf("flag '%s' not found", name)
			}
		})
	}

	for _, name := range []string{"start-date", "end-date"} {
		t.Run(name, func(t *testing.T) {
			if trendCmd.Flags().Lookup(name) == nil {
				t.Errorf("trend flag '%s' not found", name)
			}
		})
	}

	if got := rootCmd.PersistentFlags().Lookup("tolerance").DefValue; got != "0.05" {
		t.Errorf("expected tolerance default 0.05, got %s", got)
	}
}

func TestReconcileAndTrendEndToEnd(t *testing.T) {
	tmpDir := t.TempDir()
	storeFile := filepath.Join(tmpDir, "history.db")
	reportFile := filepath.Join(tmpDir, "report.json")

	setFlags(t, map[string]interface{}{
		"catalog":       testCatalog,
		"invoices":      []string{testInvoices},
		"store":         storeFile,
		"output-format": "json",
		"output-file":   reportFile,
	})
	if err := validateReconcileFlags(&cobra.Command{}, nil); err != nil {
		t.Fatalf("validateReconcileFlags: %v", err)
	}
	if err := runReconcile(&cobra.Command{}, nil); err != nil {
		t.Fatalf("runReconcile: %v", err)
	}

	data, err := os.ReadFile(reportFile)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	var report []struct {
		InvoiceNumber string `json:"invoice_number"`
		Vendor        string `json:"vendor"`
		Summary       struct {
			TotalItems        int `json:"total_items"`
			HighVarianceItems int `json:"high_variance_items"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if len(report) != 3 {
		t.Fatalf("expected 3 invoices in report, got %d", len(report))
	}
	if report[1].InvoiceNumber != "INV-2024-0187" || report[1].Summary.TotalItems != 3 || report[1].Summary.HighVarianceItems != 1 {
		t.Errorf("unexpected second invoice %+v", report[1])
	}
	if report[2].Vendor != "Gulf Building Materials" {
		t.Errorf("expected vendor from the structured blob, got %q", report[2].Vendor)
	}

	// Re-running must not duplicate history rows
	if err := runReconcile(&cobra.Command{}, nil); err != nil {
		t.Fatalf("second runReconcile: %v", err)
	}

	trendFile := filepath.Join(tmpDir, "trend.json")
	setFlags(t, map[string]interface{}{
		"store":         storeFile,
		"output-format": "json",
		"output-file":   trendFile,
	})
	if err := validateTrendFlags(&cobra.Command{}, nil); err != nil {
		t.Fatalf("validateTrendFlags: %v", err)
	}
	if err := runTrend(&cobra.Command{}, nil); err != nil {
		t.Fatalf("runTrend: %v", err)
	}

	data, err = os.ReadFile(trendFile)
	if err != nil {
		t.Fatalf("failed to read trend report: %v", err)
	}
	var summary models.TrendSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("trend report is not valid JSON: %v", err)
	}
	if summary.TotalInvoices != 3 {
		t.Errorf("expected 3 invoices in history, got %d", summary.TotalInvoices)
	}

	var rebar *models.TrendRecord
	for i := range summary.Items {
		if summary.Items[i].Description == "Rebar" {
			rebar = &summary.Items[i]
		}
	}
	if rebar == nil {
		t.Fatalf("no Rebar trend record in %+v", summary.Items)
	}
	if rebar.Trend != models.TrendIncreasing || len(rebar.History) != 3 {
		t.Errorf("unexpected Rebar trend %+v", rebar)
	}
	if summary.PeriodStart == nil || summary.PeriodStart.Format(models.DateLayout) != "2024-01-10" {
		t.Errorf("unexpected period start %v", summary.PeriodStart)
	}
}

func TestTrendWithoutStore(t *testing.T) {
	trendFile := filepath.Join(t.TempDir(), "trend.csv")
	setFlags(t, map[string]interface{}{
		"catalog":       testCatalog,
		"invoices":      []string{testInvoices},
		"start-date":    "2024-02-01",
		"output-format": "csv",
		"output-file":   trendFile,
	})
	if err := validateTrendFlags(&cobra.Command{}, nil); err != nil {
		t.Fatalf("validateTrendFlags: %v", err)
	}
	if err := runTrend(&cobra.Command{}, nil); err != nil {
		t.Fatalf("runTrend: %v", err)
	}

	data, err := os.ReadFile(trendFile)
	if err != nil {
		t.Fatalf("failed to read trend report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if !strings.HasPrefix(lines[0], "description,") {
		t.Errorf("expected CSV header, got %q", lines[0])
	}

	var rebar string
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "Rebar,") {
			rebar = line
		}
	}
	if !strings.Contains(rebar, ",2,") || !strings.Contains(rebar, "increasing") {
		t.Errorf("expected two February onward Rebar points trending up, got %q", rebar)
	}
}

func TestReconcileForTrendSkipsRepeatedInvoices(t *testing.T) {
	setFlags(t, map[string]interface{}{
		"catalog":  testCatalog,
		"invoices": []string{filepath.Join(testInvoices, "inv-2024-03.json"), testInvoices},
	})
	if err := validateTrendFlags(&cobra.Command{}, nil); err != nil {
		t.Fatalf("validateTrendFlags: %v", err)
	}

	results, err := reconcileForTrend(context.Background(), store.HistoryFilter{})
	if err != nil {
		t.Fatalf("reconcileForTrend: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected the repeated invoice once, got %d results", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].InvoiceDate.Before(*results[i-1].InvoiceDate) {
			t.Errorf("results out of date order at %d", i)
		}
	}
}

func TestWriteExtractionFlagsUnparsedFields(t *testing.T) {
	var out bytes.Buffer
	writeExtraction(&out, extraction{
		Source: "scan.txt",
		Fields: models.FieldSet{
			models.FieldDate: {Name: models.FieldDate, Kind: models.KindText, Text: "05/03/24", Raw: "05/03/24", Warning: "unparsable date: 05/03/24"},
			models.FieldVendor: {Name: models.FieldVendor, Kind: models.KindText, Text: "Gulf Trading", Raw: "Gulf Trading"},
		},
	})

	output := out.String()
	if !strings.Contains(output, "05/03/24  (unparsable date: 05/03/24)") {
		t.Errorf("unparsed date should carry its warning:\n%s", output)
	}
	if strings.Contains(output, "Gulf Trading  (") {
		t.Errorf("normalised field should have no warning:\n%s", output)
	}
	if !strings.Contains(output, "No line items found.") {
		t.Errorf("expected the empty table note:\n%s", output)
	}
}

func TestRunExtract(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "extract.txt")
	setFlags(t, map[string]interface{}{
		"invoices":    []string{filepath.Join(testInvoices, "inv-2024-02.txt")},
		"output-file": outFile,
	})
	if err := validateExtractFlags(&cobra.Command{}, nil); err != nil {
		t.Fatalf("validateExtractFlags: %v", err)
	}
	if err := runExtract(&cobra.Command{}, nil); err != nil {
		t.Fatalf("runExtract: %v", err)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	output := string(data)
	for _, want := range []string{"INV-2024-0187", "2024-02-12", "Rebar", "Delivery Fee", "537"} {
		if !strings.Contains(output, want) {
			t.Errorf("extract output should contain %q:\n%s", want, output)
		}
	}
}
