package matcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/logger"
)

// Notes attached to unmatched items
const (
	NoteNoMatch       = "No matching item found in catalog"
	NoteMultipleMatch = "Multiple matching items found in catalog"
)

// CatalogMatcher matches line items against one catalog with one tolerance.
// It is safe for concurrent use once constructed.
type CatalogMatcher struct {
	index       *CatalogIndex
	config      *MatchingConfig
	fingerprint string
	logger      logger.Logger
}

// NewCatalogMatcher indexes the catalog and validates the configuration
func NewCatalogMatcher(catalog models.Catalog, config *MatchingConfig) (*CatalogMatcher, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}

	m := &CatalogMatcher{
		index:       NewCatalogIndex(catalog),
		config:      config.Clone(),
		fingerprint: catalog.Fingerprint(),
		logger:      logger.WithComponent("matcher"),
	}
	if skipped := m.index.Skipped(); skipped > 0 {
		m.logger.WithField("entries", skipped).Warn("catalog entries without description cannot match")
	}
	return m, nil
}

// Config returns a copy of the matcher configuration
func (m *CatalogMatcher) Config() *MatchingConfig {
	return m.config.Clone()
}

// CatalogFingerprint returns the fingerprint of the indexed catalog
func (m *CatalogMatcher) CatalogFingerprint() string {
	return m.fingerprint
}

// Match binds one line item to the catalog and computes its variance
func (m *CatalogMatcher) Match(item models.LineItem) models.ItemAnalysis {
	analysis := models.ItemAnalysis{Item: item}

	candidates := m.index.Lookup(item.Description)
	switch len(candidates) {
	case 0:
		m.logger.WithField("item", item.Description).Debug("no catalog match")
		analysis.Notes = append(analysis.Notes, NoteNoMatch)
		return analysis

	case 1:
		return m.classify(analysis, candidates[0])

	default:
		codes := make([]string, len(candidates))
		for i, c := range candidates {
			codes[i] = c.ItemCode
		}
		m.logger.WithFields(logger.Fields{
			"item":       item.Description,
			"candidates": codes,
		}).Debug("ambiguous catalog match")
		analysis.Notes = append(analysis.Notes,
			fmt.Sprintf("%s: %s", NoteMultipleMatch, strings.Join(codes, ", ")))
		return analysis
	}
}

func (m *CatalogMatcher) classify(analysis models.ItemAnalysis, entry models.CatalogEntry) models.ItemAnalysis {
	item := analysis.Item

	analysis.Matched = true
	analysis.ItemCode = entry.ItemCode
	analysis.ExpectedUnitPrice = entry.UnitPrice
	analysis.ExpectedTotal = entry.UnitPrice.Mul(item.Quantity)
	analysis.Variance = item.Amount.Sub(analysis.ExpectedTotal)

	if analysis.ExpectedTotal.IsPositive() {
		analysis.VariancePercentage = analysis.Variance.Mul(hundred).Div(analysis.ExpectedTotal)
	} else {
		analysis.VariancePercentage = decimal.Zero
	}

	limit := m.config.TolerancePercent()
	analysis.WithinTolerance = analysis.VariancePercentage.Abs().LessThanOrEqual(limit)
	if !analysis.WithinTolerance {
		analysis.Notes = append(analysis.Notes, fmt.Sprintf("Price variance of %s%% exceeds tolerance of %s%%",
			analysis.VariancePercentage.StringFixed(2), FormatPercent(limit)))
	}

	return analysis
}

// Match is a one-shot helper for callers holding a single item.
// Reconciling many items should build a CatalogMatcher once instead.
func Match(item models.LineItem, catalog models.Catalog, tolerance decimal.Decimal) (models.ItemAnalysis, error) {
	m, err := NewCatalogMatcher(catalog, NewMatchingConfig(tolerance))
	if err != nil {
		return models.ItemAnalysis{}, err
	}
	return m.Match(item), nil
}

// FormatPercent renders a percentage with at least one decimal place: 5 -> "5.0", 7.5 -> "7.5"
func FormatPercent(p decimal.Decimal) string {
	if p.Equal(p.Truncate(0)) {
		return p.StringFixed(1)
	}
	return p.String()
}
