package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar representation of extracted dates
const DateLayout = "2006-01-02"

// FieldKind tells which typed value of an ExtractedField is populated
type FieldKind string

const (
	KindDate   FieldKind = "date"
	KindAmount FieldKind = "amount"
	KindText   FieldKind = "text"
)

// Well-known header field names
const (
	FieldInvoiceNumber = "invoice_number"
	FieldDate          = "date"
	FieldTotalAmount   = "total_amount"
	FieldTax           = "tax"
	FieldVendor        = "vendor"
)

// SourceStructured marks fields merged from the structured blob
const SourceStructured = "structured"

// RawInvoiceText is the input handed over by the text extraction stage:
// the full text plus an optional loosely-structured key/value blob.
type RawInvoiceText struct {
	Source     string            `json:"source,omitempty"`
	Text       string            `json:"text"`
	Structured map[string]string `json:"structured,omitempty"`
}

// ExtractedField is a header value pulled out of invoice text.
// Exactly one of Date, Amount or Text is meaningful, selected by Kind.
// A value that failed normalisation keeps Kind=text, its Raw string and a Warning.
type ExtractedField struct {
	Name    string          `json:"name"`
	Kind    FieldKind       `json:"kind"`
	Date    time.Time       `json:"-"`
	Amount  decimal.Decimal `json:"-"`
	Text    string          `json:"-"`
	Raw     string          `json:"raw"`
	Source  string          `json:"source"`
	Warning string          `json:"warning,omitempty"`
}

// Value returns the canonical string form of the field
func (f ExtractedField) Value() string {
	switch f.Kind {
	case KindDate:
		return f.Date.Format(DateLayout)
	case KindAmount:
		return f.Amount.String()
	default:
		return f.Text
	}
}

// IsNormalized reports whether the field carries a typed value without warnings
func (f ExtractedField) IsNormalized() bool {
	return f.Warning == ""
}

func (f ExtractedField) MarshalJSON() ([]byte, error) {
	type Alias ExtractedField
	return json.Marshal(&struct {
		Value string `json:"value"`
		Alias
	}{
		Value: f.Value(),
		Alias: Alias(f),
	})
}

func (f *ExtractedField) UnmarshalJSON(data []byte) error {
	type Alias ExtractedField
	aux := &struct {
		Value string `json:"value"`
		*Alias
	}{
		Alias: (*Alias)(f),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	switch f.Kind {
	case KindDate:
		d, err := time.Parse(DateLayout, aux.Value)
		if err != nil {
			return fmt.Errorf("invalid date value %q: %w", aux.Value, err)
		}
		f.Date = d
	case KindAmount:
		a, err := decimal.NewFromString(aux.Value)
		if err != nil {
			return fmt.Errorf("invalid amount value %q: %w", aux.Value, err)
		}
		f.Amount = a
	default:
		f.Text = aux.Value
	}
	return nil
}

// FieldSet maps a field name to its extracted value
type FieldSet map[string]ExtractedField

// Text returns the canonical value of a field, or "" when absent
func (fs FieldSet) Text(name string) string {
	if f, ok := fs[name]; ok {
		return f.Value()
	}
	return ""
}

// LineItem is one row of the invoice's item table
type LineItem struct {
	Description      string          `json:"description"`
	Quantity         decimal.Decimal `json:"quantity"`
	QuantityInferred bool            `json:"quantity_inferred,omitempty"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Amount           decimal.Decimal `json:"amount"`
}

// NewLineItem builds a row with an explicit quantity
func NewLineItem(description string, quantity, unitPrice, amount decimal.Decimal) LineItem {
	return LineItem{
		Description: strings.TrimSpace(description),
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		Amount:      amount,
	}
}

// Equals compares two line items by value
func (li LineItem) Equals(other LineItem) bool {
	return li.Description == other.Description &&
		li.Quantity.Equal(other.Quantity) &&
		li.QuantityInferred == other.QuantityInferred &&
		li.UnitPrice.Equal(other.UnitPrice) &&
		li.Amount.Equal(other.Amount)
}

// CatalogEntry is one baseline price of the pricing catalog.
// Descriptions are not unique across a catalog.
type CatalogEntry struct {
	ItemCode    string          `json:"item_code"`
	Description string          `json:"description"`
	Unit        string          `json:"unit,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Catalog is the ordered pricing reference
type Catalog []CatalogEntry

// Fingerprint digests every entry in catalog order. Any change to a code,
// description, unit or price yields a different fingerprint.
func (c Catalog) Fingerprint() string {
	h := sha256.New()
	for _, e := range c {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\n", e.ItemCode, e.Description, e.Unit, e.UnitPrice.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ItemAnalysis binds one line item to at most one catalog entry
type ItemAnalysis struct {
	Item               LineItem        `json:"item"`
	Matched            bool            `json:"matched"`
	ItemCode           string          `json:"item_code,omitempty"`
	ExpectedUnitPrice  decimal.Decimal `json:"expected_unit_price"`
	ExpectedTotal      decimal.Decimal `json:"expected_total"`
	Variance           decimal.Decimal `json:"variance"`
	VariancePercentage decimal.Decimal `json:"variance_percentage"`
	WithinTolerance    bool            `json:"within_tolerance"`
	Notes              []string        `json:"notes,omitempty"`
}

// ComparisonSummary holds invoice-level counters
type ComparisonSummary struct {
	TotalItems              int             `json:"total_items"`
	ItemsWithVariance       int             `json:"items_with_variance"`
	HighVarianceItems       int             `json:"high_variance_items"`
	TotalVariance           decimal.Decimal `json:"total_variance"`
	TotalVariancePercentage decimal.Decimal `json:"total_variance_percentage"`
}

// ComparisonResult is the reconciled analysis of one invoice
type ComparisonResult struct {
	AnalysisID       string            `json:"analysis_id"`
	Source           string            `json:"source,omitempty"`
	InvoiceNumber    string            `json:"invoice_number"`
	Vendor           string            `json:"vendor,omitempty"`
	InvoiceDate      *time.Time        `json:"invoice_date,omitempty"`
	Tolerance        decimal.Decimal   `json:"tolerance"`
	Fields           FieldSet          `json:"fields"`
	Items            []ItemAnalysis    `json:"items"`
	Summary          ComparisonSummary `json:"summary"`
	ValidationIssues []string          `json:"validation_issues,omitempty"`
}

// IsEmpty reports the "nothing extractable" outcome
func (r *ComparisonResult) IsEmpty() bool {
	return r.Summary.TotalItems == 0
}

// Trend is the direction of an item's variance history
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// TrendRecord accumulates the variance history of one item description
type TrendRecord struct {
	Description     string    `json:"description"`
	History         []float64 `json:"history"`
	AverageVariance float64   `json:"average_variance"`
	Slope           float64   `json:"slope"`
	Trend           Trend     `json:"trend"`
}

// HighVarianceItem is an item whose average variance crosses the fixed threshold
type HighVarianceItem struct {
	Description     string  `json:"description"`
	AverageVariance float64 `json:"average_variance"`
	Trend           Trend   `json:"trend"`
}

// TrendSummary is the cross-invoice view of a sequence of results
type TrendSummary struct {
	TotalInvoices     int                `json:"total_invoices"`
	PeriodStart       *time.Time         `json:"period_start,omitempty"`
	PeriodEnd         *time.Time         `json:"period_end,omitempty"`
	AverageVariance   float64            `json:"average_variance"`
	MaxVariance       float64            `json:"max_variance"`
	MinVariance       float64            `json:"min_variance"`
	StdDev            float64            `json:"std_dev"`
	Items             []TrendRecord      `json:"items"`
	HighVarianceItems []HighVarianceItem `json:"high_variance_items"`
}
