package reconciler

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-variance-service/internal/matcher"
	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/parsers"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// PlaceholderPrefix marks structured blob keys that the upstream extraction
// stage generated for unlabelled text fragments.
const PlaceholderPrefix = "text_"

// analysisNamespace scopes the name-based analysis identifiers
var analysisNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:invoice-variance-service:analysis"))

var hundred = decimal.NewFromInt(100)

// Config holds configuration options for the reconciliation engine
type Config struct {
	// Tolerance is the accepted variance fraction, 0.05 for 5%
	Tolerance decimal.Decimal

	// MaxConcurrency bounds the invoices reconciled in parallel by ReconcileBatch
	MaxConcurrency int

	// ValidateExtraction records consistency issues on each result
	ValidateExtraction bool
}

// DefaultConfig returns a default configuration for the engine
func DefaultConfig() *Config {
	return &Config{
		Tolerance:          matcher.DefaultTolerance,
		MaxConcurrency:     4,
		ValidateExtraction: true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := matcher.NewMatchingConfig(c.Tolerance).Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", c.Tolerance.String(), err)
	}
	if c.MaxConcurrency <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "concurrency", c.MaxConcurrency,
			fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency))
	}
	return nil
}

// Engine runs field extraction, table extraction and catalog matching over
// whole invoices. It holds no per-invoice state and may be shared.
type Engine struct {
	fields *parsers.FieldExtractor
	table  *parsers.TableExtractor
	logger logger.Logger
}

// NewEngine creates an engine with the default bilingual extractors
func NewEngine() *Engine {
	return &Engine{
		fields: parsers.NewFieldExtractor(),
		table:  parsers.NewTableExtractor(),
		logger: logger.WithComponent("reconciler"),
	}
}

// Reconcile analyses one invoice against the catalog.
//
// Malformed content never produces an error: missing fields, a missing table
// or unmatched items show up in the result and its summary counters. An error
// is returned only when the text itself is unusable (empty or not UTF-8) or
// the tolerance is out of range; no result is returned in that case.
func (e *Engine) Reconcile(doc models.RawInvoiceText, catalog models.Catalog, tolerance decimal.Decimal) (*models.ComparisonResult, error) {
	m, err := matcher.NewCatalogMatcher(catalog, matcher.NewMatchingConfig(tolerance))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", tolerance.String(), err)
	}
	return e.reconcile(doc, m, true)
}

func (e *Engine) reconcile(doc models.RawInvoiceText, m *matcher.CatalogMatcher, validate bool) (*models.ComparisonResult, error) {
	if err := checkInput(doc); err != nil {
		return nil, err
	}

	fields := e.fields.Extract(doc.Text)
	MergeStructured(fields, doc.Structured)
	items := e.table.Extract(doc.Text)

	analyses := make([]models.ItemAnalysis, len(items))
	for i, item := range items {
		analyses[i] = m.Match(item)
	}

	tolerance := m.Config().Tolerance
	result := &models.ComparisonResult{
		AnalysisID:    AnalysisID(doc, m.CatalogFingerprint(), tolerance),
		Source:        doc.Source,
		InvoiceNumber: fields.Text(models.FieldInvoiceNumber),
		Vendor:        fields.Text(models.FieldVendor),
		Tolerance:     tolerance,
		Fields:        fields,
		Items:         analyses,
		Summary:       Summarize(analyses, tolerance),
	}
	if f, ok := fields[models.FieldDate]; ok && f.Kind == models.KindDate {
		d := f.Date
		result.InvoiceDate = &d
	}
	if validate {
		result.ValidationIssues = ValidateExtraction(fields, items)
	}

	log := e.logger.WithFields(logger.Fields{
		"source":  doc.Source,
		"invoice": result.InvoiceNumber,
		"items":   result.Summary.TotalItems,
	})
	if result.IsEmpty() {
		log.Warn("no line items could be extracted")
	} else {
		log.WithFields(logger.Fields{
			"with_variance": result.Summary.ItemsWithVariance,
			"high_variance": result.Summary.HighVarianceItems,
		}).Debug("invoice reconciled")
	}

	return result, nil
}

func checkInput(doc models.RawInvoiceText) error {
	source := doc.Source
	if source == "" {
		source = "input"
	}
	if !utf8.ValidString(doc.Text) {
		return errors.InputError(errors.CodeUnreadableInput, source, nil)
	}
	if strings.TrimSpace(doc.Text) == "" {
		return errors.InputError(errors.CodeEmptyInput, source, nil)
	}
	return nil
}

// MergeStructured adds blob entries to fields. Keys are normalised first;
// placeholder keys, blank values and fields already found in the text are skipped.
// Keys are visited in sorted order so that colliding spellings resolve the same way on every run.
func MergeStructured(fields models.FieldSet, blob map[string]string) {
	keys := make([]string, 0, len(blob))
	for k := range blob {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := parsers.NormalizeKey(k)
		value := strings.TrimSpace(blob[k])
		if name == "" || value == "" || strings.HasPrefix(name, PlaceholderPrefix) {
			continue
		}
		if _, exists := fields[name]; exists {
			continue
		}

		field := parsers.NormalizeField(name, parsers.KindOf(name), value)
		field.Source = models.SourceStructured
		fields[name] = field
	}
}

// Summarize aggregates item analyses into invoice-level counters
func Summarize(analyses []models.ItemAnalysis, tolerance decimal.Decimal) models.ComparisonSummary {
	summary := models.ComparisonSummary{
		TotalItems:              len(analyses),
		TotalVariance:           decimal.Zero,
		TotalVariancePercentage: decimal.Zero,
	}
	limit := tolerance.Mul(hundred)
	expected := decimal.Zero

	for _, a := range analyses {
		if !a.Matched {
			continue
		}
		if !a.VariancePercentage.IsZero() {
			summary.ItemsWithVariance++
		}
		if a.VariancePercentage.Abs().GreaterThan(limit) {
			summary.HighVarianceItems++
		}
		summary.TotalVariance = summary.TotalVariance.Add(a.Item.Amount.Sub(a.ExpectedTotal))
		expected = expected.Add(a.ExpectedTotal)
	}

	if expected.IsPositive() {
		summary.TotalVariancePercentage = summary.TotalVariance.Mul(hundred).Div(expected)
	}
	return summary
}

// AnalysisID derives a stable identifier from the invoice content, the
// catalog fingerprint and the tolerance. Re-running the same document under
// the same catalog and tolerance yields the same id; changing either one
// yields a new analysis.
func AnalysisID(doc models.RawInvoiceText, catalogFingerprint string, tolerance decimal.Decimal) string {
	keys := make([]string, 0, len(doc.Structured))
	for k := range doc.Structured {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(catalogFingerprint)
	b.WriteString("\x00")
	b.WriteString(tolerance.String())
	b.WriteString("\x00")
	b.WriteString(doc.Text)
	for _, k := range keys {
		b.WriteString("\x00")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(doc.Structured[k])
	}
	return uuid.NewSHA1(analysisNamespace, []byte(b.String())).String()
}
