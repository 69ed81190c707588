package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"invoice-variance-service/internal/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createTestResult() *models.ComparisonResult {
	d := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	return &models.ComparisonResult{
		AnalysisID:    "3f1c2a9e-0000-5000-8000-000000000001",
		Source:        "inv-42.txt",
		InvoiceNumber: "INV-42",
		Vendor:        "Gulf Building Materials",
		InvoiceDate:   &d,
		Tolerance:     dec("0.05"),
		Fields: models.FieldSet{
			models.FieldInvoiceNumber: {Name: models.FieldInvoiceNumber, Kind: models.KindText, Text: "INV-42", Raw: "INV-42", Source: "invoice_number:en"},
		},
		Items: []models.ItemAnalysis{
			{
				Item:               models.NewLineItem("Cement Bag", dec("10"), dec("106"), dec("1060")),
				Matched:            true,
				ItemCode:           "C-001",
				ExpectedUnitPrice:  dec("100"),
				ExpectedTotal:      dec("1000"),
				Variance:           dec("60"),
				VariancePercentage: dec("6"),
				Notes:              []string{"Price variance of 6.00% exceeds tolerance of 5.0%"},
			},
			{
				Item:            models.NewLineItem("Steel Bar", dec("2"), dec("40"), dec("80")),
				Matched:         true,
				ItemCode:        "S-01",
				ExpectedTotal:   dec("80"),
				WithinTolerance: true,
			},
			{
				Item:  models.LineItem{Description: "Delivery, express", Quantity: dec("1"), QuantityInferred: true, UnitPrice: dec("50"), Amount: dec("50")},
				Notes: []string{"No matching item found in catalog"},
			},
		},
		Summary: models.ComparisonSummary{
			TotalItems:              3,
			ItemsWithVariance:       1,
			HighVarianceItems:       1,
			TotalVariance:           dec("60"),
			TotalVariancePercentage: dec("5.5555555555555556"),
		},
		ValidationIssues: []string{"Total amount 1200.00 does not match sum of line items 1190.00"},
	}
}

func createTestTrend() *models.TrendSummary {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.TrendSummary{
		TotalInvoices:   3,
		PeriodStart:     &start,
		PeriodEnd:       &end,
		AverageVariance: 63.33,
		MaxVariance:     110,
		MinVariance:     20,
		StdDev:          36.82,
		Items: []models.TrendRecord{
			{Description: "Rebar", History: []float64{2, 6, 11}, AverageVariance: 6.333, Slope: 4.5, Trend: models.TrendIncreasing},
			{Description: "Steel", History: []float64{20, 14}, AverageVariance: 17, Slope: -6, Trend: models.TrendDecreasing},
		},
		HighVarianceItems: []models.HighVarianceItem{
			{Description: "Steel", AverageVariance: 17, Trend: models.TrendDecreasing},
		},
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{"default config", nil, false},
		{"valid config", DefaultReportConfig(), false},
		{"invalid format", &ReportConfig{Format: "pdf", CSVDelimiter: ','}, true},
		{"negative item limit", &ReportConfig{Format: FormatConsole, CSVDelimiter: ',', MaxItemsPerTable: -1}, true},
		{"quote delimiter", &ReportConfig{Format: FormatCSV, CSVDelimiter: '"'}, true},
		{"missing delimiter", &ReportConfig{Format: FormatCSV}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"xlsx", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func generator(t *testing.T, format OutputFormat) *ReportGenerator {
	t.Helper()
	config := DefaultReportConfig()
	config.Format = format
	g, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator: %v", err)
	}
	return g
}

func TestConsoleComparisonReport(t *testing.T) {
	var buf bytes.Buffer
	if err := generator(t, FormatConsole).GenerateComparisonReport([]*models.ComparisonResult{createTestResult()}, &buf); err != nil {
		t.Fatalf("GenerateComparisonReport: %v", err)
	}
	output := buf.String()

	expected := []string{
		"INVOICE VARIANCE REPORT",
		"=== INVOICE INV-42 ===",
		"Vendor:    Gulf Building Materials",
		"Date:      2024-01-15",
		"Tolerance: 5.0%",
		"Cement Bag",
		"HIGH",
		"UNMATCHED",
		"1*",
		"Total variance: 60.00 (5.56%)",
		"Validation issues (1):",
	}
	for _, s := range expected {
		if !strings.Contains(output, s) {
			t.Errorf("console output missing %q\n%s", s, output)
		}
	}
}

func TestConsoleItemLimit(t *testing.T) {
	config := DefaultReportConfig()
	config.MaxItemsPerTable = 1
	config.SortByVariance = true
	g, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator: %v", err)
	}

	var buf bytes.Buffer
	if err := g.GenerateComparisonReport([]*models.ComparisonResult{createTestResult()}, &buf); err != nil {
		t.Fatalf("GenerateComparisonReport: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "... and 2 more") {
		t.Errorf("expected truncation marker\n%s", output)
	}
	if strings.Contains(output, "Steel Bar") {
		t.Errorf("only the highest variance row should be shown\n%s", output)
	}
}

func TestConsoleEmptyResult(t *testing.T) {
	result := &models.ComparisonResult{AnalysisID: "x", Tolerance: dec("0.05")}

	var buf bytes.Buffer
	if err := generator(t, FormatConsole).GenerateComparisonReport([]*models.ComparisonResult{result}, &buf); err != nil {
		t.Fatalf("GenerateComparisonReport: %v", err)
	}
	if !strings.Contains(buf.String(), "No line items could be extracted.") {
		t.Errorf("unexpected output\n%s", buf.String())
	}
}

func TestJSONComparisonReport(t *testing.T) {
	var buf bytes.Buffer
	if err := generator(t, FormatJSON).GenerateComparisonReport([]*models.ComparisonResult{createTestResult()}, &buf); err != nil {
		t.Fatalf("GenerateComparisonReport: %v", err)
	}

	var decoded []models.ComparisonResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(decoded) != 1 || decoded[0].InvoiceNumber != "INV-42" || len(decoded[0].Items) != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
	if !decoded[0].Items[0].VariancePercentage.Equal(dec("6")) {
		t.Errorf("variance percentage lost in JSON: %s", decoded[0].Items[0].VariancePercentage)
	}
}

func TestCSVComparisonReport(t *testing.T) {
	var buf bytes.Buffer
	if err := generator(t, FormatCSV).GenerateComparisonReport([]*models.ComparisonResult{createTestResult()}, &buf); err != nil {
		t.Fatalf("GenerateComparisonReport: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("got %d records, want header + 3 rows", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(ComparisonCSVHeaders, ",") {
		t.Errorf("header = %v", records[0])
	}

	col := func(name string) int {
		for i, h := range ComparisonCSVHeaders {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	first := records[1]
	if first[col("invoice_date")] != "2024-01-15" || first[col("variance_percentage")] != "6" || first[col("within_tolerance")] != "false" {
		t.Errorf("first row = %v", first)
	}
	delivery := records[3]
	if delivery[col("description")] != "Delivery, express" || delivery[col("quantity_inferred")] != "true" || delivery[col("line")] != "3" {
		t.Errorf("delivery row = %v", delivery)
	}
}

func TestCSVWithoutHeaders(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	config.CSVHeaders = false
	config.CSVDelimiter = ';'
	g, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("NewReportGenerator: %v", err)
	}

	var buf bytes.Buffer
	if err := g.GenerateTrendReport(createTestTrend(), &buf); err != nil {
		t.Fatalf("GenerateTrendReport: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Rebar;3;") {
		t.Errorf("lines = %q", lines)
	}
}

func TestTrendReports(t *testing.T) {
	summary := createTestTrend()

	t.Run("console", func(t *testing.T) {
		var buf bytes.Buffer
		if err := generator(t, FormatConsole).GenerateTrendReport(summary, &buf); err != nil {
			t.Fatalf("GenerateTrendReport: %v", err)
		}
		for _, s := range []string{"VARIANCE TREND REPORT", "Period:   2024-01-01 to 2024-03-01", "Std Dev: 36.82", "Rebar", "increasing", "Steel: 17.00% (decreasing)"} {
			if !strings.Contains(buf.String(), s) {
				t.Errorf("console output missing %q\n%s", s, buf.String())
			}
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := generator(t, FormatCSV).GenerateTrendReport(summary, &buf); err != nil {
			t.Fatalf("GenerateTrendReport: %v", err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("got %d records", len(records))
		}
		if got := records[1]; got[0] != "Rebar" || got[4] != "increasing" || got[5] != "false" || got[6] != "2;6;11" {
			t.Errorf("Rebar row = %v", got)
		}
		if got := records[2]; got[5] != "true" {
			t.Errorf("Steel row = %v", got)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := generator(t, FormatJSON).GenerateTrendReport(summary, &buf); err != nil {
			t.Fatalf("GenerateTrendReport: %v", err)
		}
		var decoded models.TrendSummary
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.TotalInvoices != 3 || len(decoded.Items) != 2 {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("nil summary", func(t *testing.T) {
		if err := generator(t, FormatJSON).GenerateTrendReport(nil, &bytes.Buffer{}); err == nil {
			t.Error("expected error for nil summary")
		}
	})
}

type failingWriter struct {
	failOn string
	buf    bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), w.failOn) {
		return 0, errWrite
	}
	return w.buf.Write(p)
}

var errWrite = &writeError{}

type writeError struct{}

func (*writeError) Error() string { return "write refused" }

func TestSafeReportFormatFallback(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatJSON
	safe, err := NewSafeReportGenerator(config, nil)
	if err != nil {
		t.Fatalf("NewSafeReportGenerator: %v", err)
	}

	w := &failingWriter{failOn: `"analysis_id"`}
	if err := safe.WriteComparisonReport([]*models.ComparisonResult{createTestResult()}, w); err != nil {
		t.Fatalf("WriteComparisonReport: %v", err)
	}
	output := w.buf.String()
	if !strings.Contains(output, "fallback format") || !strings.Contains(output, "INVOICE VARIANCE REPORT") {
		t.Errorf("expected console fallback\n%s", output)
	}
}

func TestSafeReportValidation(t *testing.T) {
	safe, err := NewSafeReportGenerator(nil, nil)
	if err != nil {
		t.Fatalf("NewSafeReportGenerator: %v", err)
	}
	if err := safe.WriteTrendReport(nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil summary")
	}
	if err := safe.WriteComparisonReport(nil, nil); err == nil {
		t.Error("expected error for nil writer")
	}
	if _, err := NewSafeReportGenerator(&ReportConfig{Format: "pdf"}, nil); err == nil {
		t.Error("expected configuration error")
	}
}

func TestGenerateBackupPath(t *testing.T) {
	got := generateBackupPath(filepath.Join("out", "report.csv"))
	if want := filepath.Join("out", "report_backup.csv"); got != want {
		t.Errorf("generateBackupPath = %q, want %q", got, want)
	}
}
