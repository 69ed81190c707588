package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"invoice-variance-service/cmd/variance/config"
	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/parsers"
	"invoice-variance-service/internal/store"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// invoiceExtensions are picked up when an --invoices entry is a directory
var invoiceExtensions = map[string]bool{".txt": true, ".json": true}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.InputError(errors.CodeEmptyInput, description, nil).
			WithSuggestion(fmt.Sprintf("provide the %s path", description))
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).WithContext("description", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("description", description)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeUnsupported, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err).WithContext("description", description)
	}
	file.Close()

	return nil
}

func validateOutputFormat(format string) error {
	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[format] {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", format))
	}
	return nil
}

func validateOutputFile(outputFile string) error {
	if outputFile == "" {
		return nil
	}
	dir := filepath.Dir(outputFile)
	if dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, dir,
			fmt.Errorf("output directory does not exist: %s", dir))
	}
	return nil
}

// expandInvoicePaths replaces directories with the invoice files they hold,
// in name order. Plain files are kept as given.
func expandInvoicePaths(paths []string) ([]string, error) {
	var files []string

	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !invoiceExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}

	if len(files) == 0 {
		return nil, errors.InputError(errors.CodeEmptyInput, "invoices", nil).
			WithSuggestion("pass .txt or .json invoice files, or a directory holding them")
	}
	return files, nil
}

func loadCatalog(path, sheet string) (models.Catalog, error) {
	parser, err := parsers.NewCatalogParser(config.CreateCatalogConfig(path, sheet))
	if err != nil {
		return nil, err
	}

	catalog, stats, err := parser.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Catalog: %s\n", stats)
	}
	return catalog, nil
}

// loadInvoices reads every document it can. Unreadable ones are reported
// back instead of aborting the run.
func loadInvoices(paths []string) ([]models.RawInvoiceText, []*errors.AppError) {
	log := logger.WithComponent("cli")
	docs := make([]models.RawInvoiceText, 0, len(paths))
	var failures []*errors.AppError

	for _, path := range paths {
		doc, err := parsers.LoadInvoiceDocument(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Warn("skipping unreadable invoice")
			failures = append(failures, errors.WrapIfNeeded(err, errors.CategoryFile, errors.CodeFileCorrupted, "invoice could not be loaded"))
			continue
		}
		docs = append(docs, doc)
	}

	return docs, failures
}

// openOutput returns stdout or a created file with its closer
func openOutput(outputFile string) (io.Writer, func() error, error) {
	if outputFile == "" {
		return os.Stdout, func() error { return nil }, nil
	}

	output, err := os.Create(outputFile)
	if err != nil {
		code := errors.CodeFileNotFound
		if os.IsPermission(err) {
			code = errors.CodeFilePermission
		}
		return nil, nil, errors.FileError(code, outputFile, err).
			WithSuggestion("check that the output directory exists and is writable")
	}
	return output, output.Close, nil
}

func openHistory(ctx context.Context, path string) (store.HistoryStore, error) {
	if path == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store", path, nil).
			WithSuggestion("pass --store with the SQLite history database")
	}
	history, err := store.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return history, nil
}
