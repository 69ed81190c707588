// Package reporter renders reconciliation results and trend summaries.
//
// Reports are read-only views over models.ComparisonResult and
// models.TrendSummary; nothing here changes a figure computed upstream.
//
// Supported output formats:
//   - Console: human-readable tables for terminal display
//   - JSON: the result structures as-is, for programmatic consumption
//   - CSV: flat records, one row per item analysis or per trend record
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = generator.GenerateComparisonReport(results, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"invoice-variance-service/internal/matcher"
	"invoice-variance-service/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Console options
	IncludeFields    bool `json:"include_fields"`
	IncludeNotes     bool `json:"include_notes"`
	SortByVariance   bool `json:"sort_by_variance"`
	MaxItemsPerTable int  `json:"max_items_per_table"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:           FormatConsole,
		IncludeFields:    true,
		IncludeNotes:     true,
		SortByVariance:   false,
		MaxItemsPerTable: 0,
		CSVDelimiter:     ',',
		CSVHeaders:       true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItemsPerTable < 0 {
		return fmt.Errorf("max items per table cannot be negative, got %d", c.MaxItemsPerTable)
	}
	if c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r' || c.CSVDelimiter == 0 {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator renders reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

// GenerateComparisonReport writes one section (console), one array (JSON) or
// one row per item analysis (CSV) for the given results.
func (rg *ReportGenerator) GenerateComparisonReport(results []*models.ComparisonResult, writer io.Writer) error {
	switch rg.config.Format {
	case FormatConsole:
		return rg.comparisonConsole(results, writer)
	case FormatJSON:
		return writeJSON(writer, results)
	case FormatCSV:
		return rg.comparisonCSV(results, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateTrendReport writes a trend summary; CSV output has one row per trend record
func (rg *ReportGenerator) GenerateTrendReport(summary *models.TrendSummary, writer io.Writer) error {
	if summary == nil {
		return fmt.Errorf("trend summary cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.trendConsole(summary, writer)
	case FormatJSON:
		return writeJSON(writer, summary)
	case FormatCSV:
		return rg.trendCSV(summary, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func writeJSON(writer io.Writer, v interface{}) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Console output

func (rg *ReportGenerator) comparisonConsole(results []*models.ComparisonResult, writer io.Writer) error {
	fmt.Fprintf(writer, "INVOICE VARIANCE REPORT\n")
	fmt.Fprintf(writer, "Invoices: %d\n\n", len(results))

	for _, result := range results {
		if result == nil {
			continue
		}
		rg.printInvoice(result, writer)
	}
	return nil
}

func (rg *ReportGenerator) printInvoice(result *models.ComparisonResult, writer io.Writer) {
	title := result.InvoiceNumber
	if title == "" {
		title = "(no invoice number)"
	}
	fmt.Fprintf(writer, "=== INVOICE %s ===\n", title)
	if result.Source != "" {
		fmt.Fprintf(writer, "Source:    %s\n", result.Source)
	}
	if result.Vendor != "" {
		fmt.Fprintf(writer, "Vendor:    %s\n", result.Vendor)
	}
	if result.InvoiceDate != nil {
		fmt.Fprintf(writer, "Date:      %s\n", result.InvoiceDate.Format(models.DateLayout))
	}
	fmt.Fprintf(writer, "Tolerance: %s%%\n", matcher.FormatPercent(result.Tolerance.Mul(decimal.NewFromInt(100))))
	fmt.Fprintf(writer, "Analysis:  %s\n\n", result.AnalysisID)

	if rg.config.IncludeFields && len(result.Fields) > 0 {
		rg.printFields(result.Fields, writer)
		fmt.Fprintf(writer, "\n")
	}

	if result.IsEmpty() {
		fmt.Fprintf(writer, "No line items could be extracted.\n\n")
	} else {
		rg.printItems(result.Items, writer)
		fmt.Fprintf(writer, "\n")
	}

	s := result.Summary
	fmt.Fprintf(writer, "Items:          %d\n", s.TotalItems)
	fmt.Fprintf(writer, "With variance:  %d\n", s.ItemsWithVariance)
	fmt.Fprintf(writer, "High variance:  %d\n", s.HighVarianceItems)
	fmt.Fprintf(writer, "Total variance: %s (%s%%)\n", s.TotalVariance.StringFixed(2), s.TotalVariancePercentage.StringFixed(2))

	if len(result.ValidationIssues) > 0 {
		fmt.Fprintf(writer, "\nValidation issues (%d):\n", len(result.ValidationIssues))
		for _, issue := range result.ValidationIssues {
			fmt.Fprintf(writer, "  - %s\n", issue)
		}
	}
	fmt.Fprintf(writer, "\n")
}

func (rg *ReportGenerator) printFields(fields models.FieldSet, writer io.Writer) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	table := newTable(writer, []string{"Field", "Value", "Source", "Warning"})
	for _, name := range names {
		f := fields[name]
		table.Append([]string{name, f.Value(), f.Source, f.Warning})
	}
	table.Render()
}

func (rg *ReportGenerator) printItems(items []models.ItemAnalysis, writer io.Writer) {
	rows := make([]models.ItemAnalysis, len(items))
	copy(rows, items)
	if rg.config.SortByVariance {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].VariancePercentage.Abs().GreaterThan(rows[j].VariancePercentage.Abs())
		})
	}

	headers := []string{"Description", "Qty", "Unit Price", "Amount", "Code", "Expected", "Variance", "Var %", "Status"}
	if rg.config.IncludeNotes {
		headers = append(headers, "Notes")
	}
	table := newTable(writer, headers)

	hidden := 0
	if limit := rg.config.MaxItemsPerTable; limit > 0 && len(rows) > limit {
		hidden = len(rows) - limit
		rows = rows[:limit]
	}

	for _, a := range rows {
		qty := a.Item.Quantity.String()
		if a.Item.QuantityInferred {
			qty += "*"
		}
		row := []string{
			a.Item.Description,
			qty,
			a.Item.UnitPrice.StringFixed(2),
			a.Item.Amount.StringFixed(2),
			a.ItemCode,
			"",
			"",
			"",
			Status(a),
		}
		if a.Matched {
			row[5] = a.ExpectedTotal.StringFixed(2)
			row[6] = a.Variance.StringFixed(2)
			row[7] = a.VariancePercentage.StringFixed(2)
		}
		if rg.config.IncludeNotes {
			row = append(row, strings.Join(a.Notes, "; "))
		}
		table.Append(row)
	}
	table.Render()

	if hidden > 0 {
		fmt.Fprintf(writer, "  ... and %d more\n", hidden)
	}
}

func (rg *ReportGenerator) trendConsole(summary *models.TrendSummary, writer io.Writer) error {
	fmt.Fprintf(writer, "VARIANCE TREND REPORT\n")
	fmt.Fprintf(writer, "Invoices: %d\n", summary.TotalInvoices)
	if summary.PeriodStart != nil && summary.PeriodEnd != nil {
		fmt.Fprintf(writer, "Period:   %s to %s\n", summary.PeriodStart.Format(models.DateLayout), summary.PeriodEnd.Format(models.DateLayout))
	}
	fmt.Fprintf(writer, "\n=== TOTAL VARIANCE PER INVOICE ===\n")
	fmt.Fprintf(writer, "Average: %.2f\n", summary.AverageVariance)
	fmt.Fprintf(writer, "Maximum: %.2f\n", summary.MaxVariance)
	fmt.Fprintf(writer, "Minimum: %.2f\n", summary.MinVariance)
	fmt.Fprintf(writer, "Std Dev: %.2f\n\n", summary.StdDev)

	if len(summary.Items) > 0 {
		fmt.Fprintf(writer, "=== ITEM TRENDS ===\n")
		table := newTable(writer, []string{"Description", "Points", "Avg Var %", "Slope", "Trend"})
		for _, rec := range summary.Items {
			table.Append([]string{
				rec.Description,
				strconv.Itoa(len(rec.History)),
				fmt.Sprintf("%.2f", rec.AverageVariance),
				fmt.Sprintf("%.3f", rec.Slope),
				string(rec.Trend),
			})
		}
		table.Render()
		fmt.Fprintf(writer, "\n")
	}

	if len(summary.HighVarianceItems) > 0 {
		fmt.Fprintf(writer, "=== HIGH VARIANCE ITEMS ===\n")
		for _, item := range summary.HighVarianceItems {
			fmt.Fprintf(writer, "  - %s: %.2f%% (%s)\n", item.Description, item.AverageVariance, item.Trend)
		}
	}
	return nil
}

func newTable(writer io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// Status labels an item analysis for display: OK, HIGH or UNMATCHED
func Status(a models.ItemAnalysis) string {
	switch {
	case !a.Matched:
		return "UNMATCHED"
	case a.WithinTolerance:
		return "OK"
	default:
		return "HIGH"
	}
}

// CSV output

// ComparisonCSVHeaders are the columns of a comparison CSV report
var ComparisonCSVHeaders = []string{
	"analysis_id",
	"invoice_number",
	"invoice_date",
	"line",
	"description",
	"quantity",
	"quantity_inferred",
	"unit_price",
	"amount",
	"matched",
	"item_code",
	"expected_unit_price",
	"expected_total",
	"variance",
	"variance_percentage",
	"within_tolerance",
	"notes",
}

// TrendCSVHeaders are the columns of a trend CSV report
var TrendCSVHeaders = []string{
	"description",
	"points",
	"average_variance",
	"slope",
	"trend",
	"high_variance",
	"history",
}

func (rg *ReportGenerator) newCSVWriter(writer io.Writer, headers []string) (*csv.Writer, error) {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return nil, fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	return csvWriter, nil
}

func (rg *ReportGenerator) comparisonCSV(results []*models.ComparisonResult, writer io.Writer) error {
	csvWriter, err := rg.newCSVWriter(writer, ComparisonCSVHeaders)
	if err != nil {
		return err
	}

	for _, result := range results {
		if result == nil {
			continue
		}
		date := ""
		if result.InvoiceDate != nil {
			date = result.InvoiceDate.Format(models.DateLayout)
		}
		for i, a := range result.Items {
			record := []string{
				result.AnalysisID,
				result.InvoiceNumber,
				date,
				strconv.Itoa(i + 1),
				a.Item.Description,
				a.Item.Quantity.String(),
				strconv.FormatBool(a.Item.QuantityInferred),
				a.Item.UnitPrice.String(),
				a.Item.Amount.String(),
				strconv.FormatBool(a.Matched),
				a.ItemCode,
				a.ExpectedUnitPrice.String(),
				a.ExpectedTotal.String(),
				a.Variance.String(),
				a.VariancePercentage.String(),
				strconv.FormatBool(a.WithinTolerance),
				strings.Join(a.Notes, "; "),
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("failed to write item analysis record: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) trendCSV(summary *models.TrendSummary, writer io.Writer) error {
	csvWriter, err := rg.newCSVWriter(writer, TrendCSVHeaders)
	if err != nil {
		return err
	}

	high := make(map[string]bool, len(summary.HighVarianceItems))
	for _, item := range summary.HighVarianceItems {
		high[item.Description] = true
	}

	for _, rec := range summary.Items {
		history := make([]string, len(rec.History))
		for i, v := range rec.History {
			history[i] = strconv.FormatFloat(v, 'f', -1, 64)
		}
		record := []string{
			rec.Description,
			strconv.Itoa(len(rec.History)),
			strconv.FormatFloat(rec.AverageVariance, 'f', 4, 64),
			strconv.FormatFloat(rec.Slope, 'f', 4, 64),
			string(rec.Trend),
			strconv.FormatBool(high[rec.Description]),
			strings.Join(history, ";"),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write trend record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}
