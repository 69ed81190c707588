package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with input checks and fallbacks:
// a failing JSON or CSV render is retried as a console report, and a failing
// file write is retried into a sibling backup file.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", config, err).
			WithSuggestion("use one of: console, json, csv")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// WriteComparisonReport renders results with fallbacks
func (srg *SafeReportGenerator) WriteComparisonReport(results []*models.ComparisonResult, writer io.Writer) error {
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("provide a valid output writer")
	}

	return srg.run("comparison", writer, func(g *ReportGenerator, w io.Writer) error {
		return g.GenerateComparisonReport(results, w)
	})
}

// WriteTrendReport renders a trend summary with fallbacks
func (srg *SafeReportGenerator) WriteTrendReport(summary *models.TrendSummary, writer io.Writer) error {
	if summary == nil {
		return errors.ValidationError(errors.CodeMissingField, "trend summary", nil, nil).
			WithSuggestion("run the trend analysis before rendering it")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("provide a valid output writer")
	}

	return srg.run("trend", writer, func(g *ReportGenerator, w io.Writer) error {
		return g.GenerateTrendReport(summary, w)
	})
}

type renderFunc func(g *ReportGenerator, w io.Writer) error

func (srg *SafeReportGenerator) run(report string, writer io.Writer, render renderFunc) error {
	log := srg.logger.WithFields(logger.Fields{
		"report": report,
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	})
	log.Debug("generating report")

	err := render(srg.ReportGenerator, writer)
	if err == nil {
		return nil
	}
	log.WithError(err).Warn("report generation failed, attempting fallback")

	if file, ok := writer.(*os.File); ok && isFileError(err) {
		return srg.outputFallback(file, render, err)
	}
	if srg.config.Format != FormatConsole {
		return srg.formatFallback(writer, render, err)
	}
	return wrapGenerationError(err)
}

// formatFallback re-renders as a console report
func (srg *SafeReportGenerator) formatFallback(writer io.Writer, render renderFunc, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	fallback, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return wrapGenerationError(originalErr)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := render(fallback, writer); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err))
	}

	srg.logger.WithField("fallback_format", FormatConsole).Info("report generated using format fallback")
	return nil
}

// outputFallback writes the report next to the original file
func (srg *SafeReportGenerator) outputFallback(file *os.File, render renderFunc, originalErr error) error {
	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	backup, err := os.Create(backupPath)
	if err != nil {
		return wrapGenerationError(originalErr)
	}
	defer backup.Close()

	if err := render(srg.ReportGenerator, backup); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report output fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err))
	}

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Warn("report saved to backup file")
	return nil
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}

// generateBackupPath turns report.csv into report_backup.csv
func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}

func wrapGenerationError(err error) error {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}
	return errors.InternalError(errors.CodeUnexpectedError, "report generation", err).
		WithSuggestion("check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}
