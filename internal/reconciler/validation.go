package reconciler

import (
	"fmt"

	"github.com/shopspring/decimal"

	"invoice-variance-service/internal/models"
)

// RequiredFields must be present for an invoice to be considered complete
var RequiredFields = []string{
	models.FieldInvoiceNumber,
	models.FieldDate,
	models.FieldTotalAmount,
}

// amountEpsilon is the largest rounding difference accepted between amounts
var amountEpsilon = decimal.RequireFromString("0.01")

// ValidateExtraction checks the extracted invoice for internal consistency.
// Issues are reported as messages, they never fail a reconciliation.
func ValidateExtraction(fields models.FieldSet, items []models.LineItem) []string {
	var issues []string

	for _, name := range RequiredFields {
		f, ok := fields[name]
		if !ok || f.Value() == "" {
			issues = append(issues, fmt.Sprintf("Missing required field: %s", name))
		}
	}

	if f, ok := fields[models.FieldDate]; ok && f.Kind != models.KindDate {
		issues = append(issues, fmt.Sprintf("Invalid date format: %s", f.Raw))
	}

	sum := decimal.Zero
	for i, item := range items {
		sum = sum.Add(item.Amount)

		if item.QuantityInferred {
			continue
		}
		line := item.Quantity.Mul(item.UnitPrice)
		if line.Sub(item.Amount).Abs().GreaterThan(amountEpsilon) {
			issues = append(issues, fmt.Sprintf("Line %d (%s): amount %s does not equal quantity x unit price %s",
				i+1, item.Description, item.Amount.StringFixed(2), line.StringFixed(2)))
		}
	}

	total, ok := fields[models.FieldTotalAmount]
	if ok && total.Kind == models.KindAmount && len(items) > 0 {
		// Totals are printed either before or after tax.
		withTax := sum
		if tax, ok := fields[models.FieldTax]; ok && tax.Kind == models.KindAmount {
			withTax = sum.Add(tax.Amount)
		}
		if sum.Sub(total.Amount).Abs().GreaterThan(amountEpsilon) &&
			withTax.Sub(total.Amount).Abs().GreaterThan(amountEpsilon) {
			issues = append(issues, fmt.Sprintf("Total amount %s does not match sum of line items %s",
				total.Amount.StringFixed(2), sum.StringFixed(2)))
		}
	}

	return issues
}
