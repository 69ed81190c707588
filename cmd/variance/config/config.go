package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoice-variance-service/internal/matcher"
	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/parsers"
	"invoice-variance-service/internal/reconciler"
	"invoice-variance-service/internal/reporter"
	"invoice-variance-service/internal/store"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// CreateCatalogConfig creates a catalog parser configuration. The delimiter
// switches to ';' for .ssv files and to a tab for .tsv files.
func CreateCatalogConfig(catalogPath, sheet string) *parsers.CatalogConfig {
	config := parsers.DefaultCatalogConfig()
	config.Sheet = strings.TrimSpace(sheet)

	switch strings.ToLower(filepath.Ext(catalogPath)) {
	case ".tsv":
		config.Delimiter = '\t'
	case ".ssv":
		config.Delimiter = ';'
	}

	return config
}

// CreateMatchingConfig creates a matching configuration for a tolerance fraction
func CreateMatchingConfig(tolerance float64) *matcher.MatchingConfig {
	return matcher.NewMatchingConfig(decimal.NewFromFloat(tolerance))
}

// CreateReconcilerConfig creates a reconciler configuration
func CreateReconcilerConfig(tolerance float64, concurrency int) *reconciler.Config {
	config := reconciler.DefaultConfig()

	config.Tolerance = decimal.NewFromFloat(tolerance)
	if concurrency > 0 {
		config.MaxConcurrency = concurrency
	}

	return config
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "console":
		config.Format = reporter.FormatConsole
		config.SortByVariance = true
	case "json":
		config.Format = reporter.FormatJSON
		config.IncludeFields = true
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		config.IncludeNotes = true
	default:
		config.Format = reporter.OutputFormat(format)
	}

	return config
}

// CreateLoggerConfig maps the CLI logging flags onto a logger configuration.
// Verbose lowers the level to info unless a level was set explicitly.
func CreateLoggerConfig(level, format string, verbose bool) *logger.Config {
	config := logger.DefaultConfig()

	if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
		config.Level = logger.Level(level)
	} else if verbose {
		config.Level = logger.InfoLevel
	}
	if format = strings.ToLower(strings.TrimSpace(format)); format != "" {
		config.Format = logger.Format(format)
	}

	return config
}

// ParseDateRange parses optional YYYY-MM-DD bounds into a history filter
func ParseDateRange(start, end string) (store.HistoryFilter, error) {
	var filter store.HistoryFilter

	if start != "" {
		d, err := time.Parse(models.DateLayout, start)
		if err != nil {
			return filter, errors.ValidationError(errors.CodeInvalidDate, "start-date", start, err).
				WithSuggestion("use YYYY-MM-DD format")
		}
		filter.Start = &d
	}
	if end != "" {
		d, err := time.Parse(models.DateLayout, end)
		if err != nil {
			return filter, errors.ValidationError(errors.CodeInvalidDate, "end-date", end, err).
				WithSuggestion("use YYYY-MM-DD format")
		}
		filter.End = &d
	}

	if filter.Start != nil && filter.End != nil && filter.Start.After(*filter.End) {
		return filter, errors.ValidationError(errors.CodeOutOfRange, "start-date", start,
			fmt.Errorf("start date %s is after end date %s", start, end)).
			WithSuggestion("swap the dates or widen the range")
	}

	return filter, nil
}

// ValidateConfig validates that all required configurations are valid
func ValidateConfig(catalogConfig *parsers.CatalogConfig, reconcilerConfig *reconciler.Config, reportConfig *reporter.ReportConfig) error {
	if err := catalogConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "catalog", catalogConfig.Sheet, err)
	}

	if err := reconcilerConfig.Validate(); err != nil {
		return err
	}

	if err := reportConfig.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", reportConfig.Format, err).
			WithSuggestion("use one of: console, json, csv")
	}

	return nil
}
