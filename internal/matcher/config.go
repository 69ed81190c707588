// Package matcher binds extracted invoice line items to pricing catalog
// entries and classifies the price variance of each bound item.
//
// Matching is a case-insensitive substring test in one direction only: the
// invoice line's description is the haystack and the catalog description is
// the needle. Short canonical catalog names such as "Cement Bag" therefore
// match longer free-text invoice lines like "Cement Bag 50kg grey".
//
// Three outcomes are possible for every item:
//  1. Exactly one catalog entry matches: the expected total is computed from
//     the catalog price and the item quantity, and the variance is compared
//     against the tolerance.
//  2. No entry matches: the item is reported unmatched with a note.
//  3. Several entries match: the item is reported unmatched with a note that
//     lists the candidates. The ambiguity is never resolved by picking one,
//     since that would hide a catalog data-quality problem.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	m, err := matcher.NewCatalogMatcher(catalog, config)
//	if err != nil {
//		return err
//	}
//	analysis := m.Match(item)
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultTolerance is the variance fraction accepted when none is configured (5%)
var DefaultTolerance = decimal.RequireFromString("0.05")

// MatchingConfig controls how matched items are classified.
type MatchingConfig struct {
	// Tolerance is the maximum acceptable absolute variance, expressed as a
	// fraction of the expected total. 0.05 means 5%.
	// Valid range: 0 to 1 inclusive.
	Tolerance decimal.Decimal `json:"tolerance" mapstructure:"tolerance"`
}

// DefaultMatchingConfig returns a configuration with a 5% tolerance
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{Tolerance: DefaultTolerance}
}

// NewMatchingConfig returns a configuration with the given tolerance fraction
func NewMatchingConfig(tolerance decimal.Decimal) *MatchingConfig {
	return &MatchingConfig{Tolerance: tolerance}
}

// Validate checks that the tolerance is a fraction between 0 and 1
func (c *MatchingConfig) Validate() error {
	if c.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance cannot be negative, got %s", c.Tolerance)
	}
	if c.Tolerance.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("tolerance is a fraction and cannot exceed 1, got %s", c.Tolerance)
	}
	return nil
}

// TolerancePercent returns the tolerance scaled to percent
func (c *MatchingConfig) TolerancePercent() decimal.Decimal {
	return c.Tolerance.Mul(hundred)
}

// Clone returns an independent copy of the configuration
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	return &clone
}

func (c *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{Tolerance: %s%%}", FormatPercent(c.TolerancePercent()))
}
