package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("command failed")

	var summary *errors.ErrorSummary
	if errors.As(err, &summary) {
		return h.handleSummary(summary)
	}

	if appErr, ok := errors.AsAppError(err); ok {
		return h.handleAppError(appErr)
	}

	return h.handleGenericError(err)
}

// handleAppError prints an AppError with its context
func (h *CLIErrorHandler) handleAppError(err *errors.AppError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleSummary prints every failed document of a run
func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	fmt.Fprintf(h.out, "Error: %s\n", summary.Error())
	fmt.Fprintln(h.out, FormatErrorList(summary.Errors))

	for _, category := range summaryCategories {
		if summary.HasCategory(category) {
			fmt.Fprintf(h.out, "\n%s\n", getCategoryHelp(category))
		}
	}

	if h.verbose {
		for _, err := range summary.Errors {
			if err.Cause != nil {
				fmt.Fprintf(h.out, "  cause: %v\n", err.Cause)
			}
		}
	}

	return summary.GetExitCode()
}

// handleGenericError handles errors from outside pkg/errors
func (h *CLIErrorHandler) handleGenericError(err error) int {
	switch {
	case isFileNotFoundError(err):
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	case isPermissionError(err):
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	case isDiskFullError(err):
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more details\n")
	}
	return 1
}

// summaryCategories is the order in which help is printed for a summary
var summaryCategories = []errors.ErrorCategory{
	errors.CategoryInput,
	errors.CategoryFile,
	errors.CategoryParse,
	errors.CategoryValidation,
	errors.CategoryConfiguration,
	errors.CategoryStorage,
	errors.CategoryInternal,
}

// getCategoryHelp returns category-specific help text
func getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryInput:
		return `Input error help:
• The invoice text is empty or not valid UTF-8
• Re-run text extraction on the source document
• Make sure .json invoices carry the text in a "text" field`

	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Catalogs must be .csv or .xlsx, invoices .txt or .json`

	case errors.CategoryParse:
		return `Parse error help:
• The catalog needs item_code, description and unit_price columns
• Check that the header row is the first row of the file or sheet
• Ensure the file uses UTF-8 encoding`

	case errors.CategoryValidation:
		return `Validation error help:
• Dates use YYYY-MM-DD format
• Amounts are decimal numbers without currency symbols
• Check that all values are within acceptable ranges`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and VARIANCE_* environment variables
• Verify configuration file syntax if using --config
• Use 'variance <command> --help' to see all available options`

	case errors.CategoryStorage:
		return `Storage error help:
• Check that the --store path is writable
• The history database may be locked by another process
• Remove a corrupted database file to start a fresh history`

	default:
		return `For more help:
• Use 'variance --help' for general help
• Use 'variance reconcile --help' for command-specific help
• Run again with --verbose for the underlying error`
	}
}

func isFileNotFoundError(err error) bool {
	return errors.Is(err, os.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func isPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func isDiskFullError(err error) bool {
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// FormatErrorList formats per-document errors, at most ten of them
func FormatErrorList(errs []*errors.AppError) string {
	if len(errs) == 0 {
		return ""
	}

	var lines []string
	for i, err := range errs {
		if i == 10 {
			lines = append(lines, fmt.Sprintf("  ... and %d more errors", len(errs)-10))
			break
		}
		line := fmt.Sprintf("  %d. %s", i+1, err.Message)
		if source, ok := err.Context["source"]; ok {
			line += fmt.Sprintf(" (%v)", source)
		} else if path, ok := err.Context["file_path"]; ok {
			line += fmt.Sprintf(" (%v)", path)
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}
