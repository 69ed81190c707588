package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-variance-service/cmd/variance/config"
	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/reporter"
	"invoice-variance-service/internal/store"
	"invoice-variance-service/internal/trends"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

var (
	startDate string
	endDate   string
)

// trendCmd represents the trend command
var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Analyse price variance trends across invoices",
	Long: `Trend folds reconciled invoices, oldest first, into per-item variance
histories and classifies each item as increasing, decreasing or stable.

Invoices come from the SQLite history written by 'reconcile --store', or are
reconciled on the fly when --catalog and --invoices are given instead.

Examples:
  # Everything in the history
  variance trend --store history.db

  # One quarter only
  variance trend --store history.db --start-date 2024-01-01 --end-date 2024-03-31

  # Without a history database
  variance trend --catalog catalog.csv --invoices invoices/ --output-format json`,

	PreRunE: validateTrendFlags,
	RunE:    runTrend,
}

func init() {
	rootCmd.AddCommand(trendCmd)

	trendCmd.Flags().StringVar(&startDate, "start-date", "", "first invoice date to include (YYYY-MM-DD)")
	trendCmd.Flags().StringVar(&endDate, "end-date", "", "last invoice date to include (YYYY-MM-DD)")

	viper.BindPFlag("start-date", trendCmd.Flags().Lookup("start-date"))
	viper.BindPFlag("end-date", trendCmd.Flags().Lookup("end-date"))
}

func validateTrendFlags(cmd *cobra.Command, args []string) error {
	readSharedFlags()
	startDate = viper.GetString("start-date")
	endDate = viper.GetString("end-date")

	if _, err := config.ParseDateRange(startDate, endDate); err != nil {
		return err
	}

	if storePath != "" && len(invoiceFiles) > 0 {
		return errors.ConfigurationError(errors.CodeConfigConflict, "store", storePath,
			fmt.Errorf("--store and --invoices select different trend sources")).
			WithSuggestion("pass either --store or --catalog with --invoices, not both")
	}

	if storePath == "" {
		if catalogFile == "" || len(invoiceFiles) == 0 {
			return errors.ConfigurationError(errors.CodeMissingConfig, "store", storePath, nil).
				WithSuggestion("pass --store with a history database, or --catalog and --invoices")
		}
		if err := validateFileExists(catalogFile, "pricing catalog"); err != nil {
			return err
		}
		if _, err := expandInvoicePaths(invoiceFiles); err != nil {
			return err
		}
	} else if err := validateFileExists(storePath, "history database"); err != nil {
		return err
	}

	return validateCommonFlags()
}

func runTrend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filter, err := config.ParseDateRange(startDate, endDate)
	if err != nil {
		return err
	}

	var results []*models.ComparisonResult
	if storePath != "" {
		results, err = loadHistory(ctx, storePath, filter)
	} else {
		results, err = reconcileForTrend(ctx, filter)
	}
	if err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Analysing %d invoices...\n", len(results))
	}

	summary := trends.Analyze(results)

	generator, err := reporter.NewSafeReportGenerator(config.CreateReportConfig(outputFormat), logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	output, closeOutput, err := openOutput(outputFile)
	if err != nil {
		return err
	}
	defer closeOutput()

	return generator.WriteTrendReport(&summary, output)
}

func loadHistory(ctx context.Context, path string, filter store.HistoryFilter) ([]*models.ComparisonResult, error) {
	history, err := openHistory(ctx, path)
	if err != nil {
		return nil, err
	}
	defer history.Close()

	return history.History(ctx, filter)
}

// reconcileForTrend reconciles the given invoices into an in-memory history,
// so they come back filtered and ordered the way the database would return them
func reconcileForTrend(ctx context.Context, filter store.HistoryFilter) ([]*models.ComparisonResult, error) {
	batch, failures, err := reconcileInvoices(ctx)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		logger.WithComponent("cli").WithField("failed", len(failures)).Warn("some invoices were left out of the trend")
	}

	history := store.NewMemoryStore()
	defer history.Close()

	if _, err := storeResults(ctx, history, batch.Results()); err != nil {
		return nil, err
	}
	return history.History(ctx, filter)
}
