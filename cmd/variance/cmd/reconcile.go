package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-variance-service/cmd/variance/config"
	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/reconciler"
	"invoice-variance-service/internal/reporter"
	"invoice-variance-service/internal/store"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// Flags for the reconcile command, refreshed from viper before each run
var (
	catalogFile  string
	catalogSheet string
	invoiceFiles []string
	tolerance    float64
	concurrency  int
	storePath    string
	outputFormat string
	outputFile   string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare invoice prices against a pricing catalog",
	Long: `Reconcile extracts header fields and line items from each invoice, looks
every line up in the pricing catalog and reports the price variance per item
and per invoice.

This command requires:
- A pricing catalog (.csv or .xlsx) with item_code, description and unit_price columns
- One or more invoices: OCR text (.txt) or JSON documents with a "text" field

Examples:
  # Basic reconciliation
  variance reconcile --catalog catalog.csv --invoices invoice.txt

  # A directory of invoices with a 10% tolerance
  variance reconcile --catalog catalog.xlsx --invoices invoices/ --tolerance 0.1

  # Keep the results for trend analysis
  variance reconcile --catalog catalog.csv --invoices invoices/ --store history.db

  # CSV output to a file
  variance reconcile --catalog catalog.csv --invoices a.txt,b.json \
    --output-format csv --output-file variance.csv`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

// readSharedFlags refreshes the flag variables from viper so that config
// files and VARIANCE_* variables apply
func readSharedFlags() {
	catalogFile = viper.GetString("catalog")
	catalogSheet = viper.GetString("catalog-sheet")
	invoiceFiles = viper.GetStringSlice("invoices")
	tolerance = viper.GetFloat64("tolerance")
	concurrency = viper.GetInt("concurrency")
	storePath = viper.GetString("store")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	readSharedFlags()

	if catalogFile == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "catalog", catalogFile, nil).
			WithSuggestion("pass --catalog with a .csv or .xlsx pricing catalog")
	}
	if len(invoiceFiles) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "invoices", invoiceFiles, nil).
			WithSuggestion("pass --invoices with at least one invoice file or directory")
	}

	if err := validateFileExists(catalogFile, "pricing catalog"); err != nil {
		return err
	}
	if _, err := expandInvoicePaths(invoiceFiles); err != nil {
		return err
	}

	return validateCommonFlags()
}

// validateCommonFlags checks the settings every reporting command shares
func validateCommonFlags() error {
	if err := validateOutputFormat(outputFormat); err != nil {
		return err
	}

	if err := config.CreateMatchingConfig(tolerance).Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", tolerance, err).
			WithSuggestion("use a fraction between 0 and 1, e.g. 0.05 for 5%")
	}
	if concurrency <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "concurrency", concurrency,
			fmt.Errorf("concurrency must be positive"))
	}

	return validateOutputFile(outputFile)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Catalog: %s\n", catalogFile)
		fmt.Fprintf(os.Stderr, "Invoices: %s\n", strings.Join(invoiceFiles, ", "))
		fmt.Fprintf(os.Stderr, "Tolerance: %g\n", tolerance)
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
		if outputFile != "" {
			fmt.Fprintf(os.Stderr, "Output file: %s\n", outputFile)
		}
		if storePath != "" {
			fmt.Fprintf(os.Stderr, "History store: %s\n", storePath)
		}
	}

	batch, failures, err := reconcileInvoices(ctx)
	if err != nil {
		return err
	}
	results := batch.Results()

	if storePath != "" {
		if err := saveResults(ctx, storePath, results); err != nil {
			return err
		}
	}

	reportConfig := config.CreateReportConfig(outputFormat)
	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	output, closeOutput, err := openOutput(outputFile)
	if err != nil {
		return err
	}
	defer closeOutput()

	if err := generator.WriteComparisonReport(results, output); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		printReconcileSummary(results, failures)
	}

	if len(results) == 0 && len(failures) > 0 {
		return errors.NewErrorSummary(failures)
	}
	return nil
}

// reconcileInvoices loads the catalog and invoices named by the flags and
// reconciles them as one batch. Per-document failures are returned beside
// the batch rather than as the error.
func reconcileInvoices(ctx context.Context) (*reconciler.BatchResult, []*errors.AppError, error) {
	catalog, err := loadCatalog(catalogFile, catalogSheet)
	if err != nil {
		return nil, nil, err
	}

	paths, err := expandInvoicePaths(invoiceFiles)
	if err != nil {
		return nil, nil, err
	}
	docs, failures := loadInvoices(paths)

	reconcilerConfig := config.CreateReconcilerConfig(tolerance, concurrency)
	if err := config.ValidateConfig(config.CreateCatalogConfig(catalogFile, catalogSheet), reconcilerConfig, config.CreateReportConfig(outputFormat)); err != nil {
		return nil, nil, err
	}

	batch, err := reconciler.NewEngine().ReconcileBatch(ctx, docs, catalog, reconcilerConfig)
	if err != nil && batch == nil {
		return nil, nil, err
	}

	for _, item := range batch.Items {
		if item.Err != nil {
			failures = append(failures, errors.WrapIfNeeded(item.Err, errors.CategoryInternal, errors.CodeUnexpectedError, "invoice could not be reconciled").
				WithContext("source", item.Source))
		}
	}
	return batch, failures, err
}

// saveResults appends results to the history database at path
func saveResults(ctx context.Context, path string, results []*models.ComparisonResult) error {
	history, err := openHistory(ctx, path)
	if err != nil {
		return err
	}
	defer history.Close()

	saved, err := storeResults(ctx, history, results)
	if err != nil {
		return err
	}

	logger.WithComponent("cli").WithFields(logger.Fields{"store": path, "saved": saved}).Info("results saved to history")
	return nil
}

// storeResults saves every result and returns how many were new. An invoice
// already analysed with the same catalog and tolerance is skipped with a
// warning so that a batch can be re-run safely.
func storeResults(ctx context.Context, history store.HistoryStore, results []*models.ComparisonResult) (int, error) {
	log := logger.WithComponent("cli")
	saved := 0
	for _, result := range results {
		err := history.Save(ctx, result)
		switch {
		case errors.IsCode(err, errors.CodeDuplicateRecord):
			log.WithField("analysis_id", result.AnalysisID).WithField("source", result.Source).
				Warn("invoice already analysed with this catalog and tolerance, not saved again")
		case err != nil:
			return saved, err
		default:
			saved++
		}
	}
	return saved, nil
}

func printReconcileSummary(results []*models.ComparisonResult, failures []*errors.AppError) {
	var items, highVariance int
	for _, result := range results {
		items += result.Summary.TotalItems
		highVariance += result.Summary.HighVarianceItems
	}

	fmt.Fprintf(os.Stderr, "\nReconciliation completed.\n")
	fmt.Fprintf(os.Stderr, "Processed %d invoices with %d line items.\n", len(results), items)
	fmt.Fprintf(os.Stderr, "Found %d items outside tolerance.\n", highVariance)
	if len(failures) > 0 {
		fmt.Fprintf(os.Stderr, "%d invoices could not be processed:\n", len(failures))
		for _, failure := range failures {
			fmt.Fprintf(os.Stderr, "  - %s\n", failure.Message)
		}
	}
}
