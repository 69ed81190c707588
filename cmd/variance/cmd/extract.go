package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/parsers"
	"invoice-variance-service/internal/reconciler"
	"invoice-variance-service/pkg/errors"
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Show the fields and line items found in invoices",
	Long: `Extract runs field and table extraction without a catalog. It is meant
for checking what the reconciler will see in an OCR'd invoice.

Examples:
  variance extract --invoices invoice.txt
  variance extract --invoices invoices/ --output-format json`,

	PreRunE: validateExtractFlags,
	RunE:    runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
}

// extraction is the JSON shape of one extracted invoice
type extraction struct {
	Source string            `json:"source"`
	Fields models.FieldSet   `json:"fields"`
	Items  []models.LineItem `json:"items"`
	Issues []string          `json:"validation_issues,omitempty"`
}

func validateExtractFlags(cmd *cobra.Command, args []string) error {
	readSharedFlags()

	if len(invoiceFiles) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "invoices", invoiceFiles, nil).
			WithSuggestion("pass --invoices with at least one invoice file or directory")
	}
	if _, err := expandInvoicePaths(invoiceFiles); err != nil {
		return err
	}
	if outputFormat != "console" && outputFormat != "json" {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat,
			fmt.Errorf("extract supports console and json output")).
			WithSuggestion("use --output-format console or json")
	}

	return validateOutputFile(outputFile)
}

func runExtract(cmd *cobra.Command, args []string) error {
	paths, err := expandInvoicePaths(invoiceFiles)
	if err != nil {
		return err
	}
	docs, failures := loadInvoices(paths)
	if len(docs) == 0 && len(failures) > 0 {
		return errors.NewErrorSummary(failures)
	}

	extractions := extractAll(docs)

	output, closeOutput, err := openOutput(outputFile)
	if err != nil {
		return err
	}
	defer closeOutput()

	if outputFormat == "json" {
		encoder := json.NewEncoder(output)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(extractions); err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "extract output", err)
		}
		return nil
	}

	for _, e := range extractions {
		writeExtraction(output, e)
	}
	return nil
}

func extractAll(docs []models.RawInvoiceText) []extraction {
	fieldExtractor := parsers.NewFieldExtractor()
	tableExtractor := parsers.NewTableExtractor()

	extractions := make([]extraction, 0, len(docs))
	for _, doc := range docs {
		fields := fieldExtractor.Extract(doc.Text)
		reconciler.MergeStructured(fields, doc.Structured)
		items := tableExtractor.Extract(doc.Text)

		extractions = append(extractions, extraction{
			Source: doc.Source,
			Fields: fields,
			Items:  items,
			Issues: reconciler.ValidateExtraction(fields, items),
		})
	}
	return extractions
}

func writeExtraction(w io.Writer, e extraction) {
	fmt.Fprintf(w, "=== %s ===\n", e.Source)

	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := e.Fields[name]
		fmt.Fprintf(w, "%-16s %s", name+":", field.Value())
		if !field.IsNormalized() {
			fmt.Fprintf(w, "  (%s)", field.Warning)
		}
		fmt.Fprintln(w)
	}

	if len(e.Items) == 0 {
		fmt.Fprintf(w, "\nNo line items found.\n\n")
	} else {
		fmt.Fprintf(w, "\n%s\n", parsers.RenderTable(e.Items))
	}

	for _, issue := range e.Issues {
		fmt.Fprintf(w, "! %s\n", issue)
	}
	if len(e.Issues) > 0 {
		fmt.Fprintln(w)
	}
}
