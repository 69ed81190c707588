package parsers

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/logger"
)

// DefaultTableHeader matches an item table header: description, quantity,
// price and amount labels in that order, in English or Arabic.
var DefaultTableHeader = regexp.MustCompile(`(?i)(?:Item|Description|البند|الوصف)\s+` +
	`(?:Quantity|Qty|الكمية)\s+` +
	`(?:(?:Unit\s+)?Price|سعر\s+الوحدة|السعر)\s+` +
	`(?:Amount|Total|المبلغ|الإجمالي)`)

// columnSeparator splits OCR table rows: a tab or two or more whitespace characters
var columnSeparator = regexp.MustCompile(`\s{2,}|\t`)

// renderSeparator is the column gap used by RenderTable
const renderSeparator = "    "

// TableExtractor locates the item table in invoice text and splits its rows
type TableExtractor struct {
	header *regexp.Regexp
	logger logger.Logger
}

// NewTableExtractor creates an extractor using DefaultTableHeader
func NewTableExtractor() *TableExtractor {
	return &TableExtractor{
		header: DefaultTableHeader,
		logger: logger.WithComponent("table_extractor"),
	}
}

// Extract returns the line items found after the table header, in text order.
// Text without a header yields an empty slice.
//
// Rows are read positionally: four or more columns are
// description, quantity, unit price, amount; three columns are description,
// unit price, amount with an inferred quantity of one. Any other shape, or a
// row whose numbers do not parse, is skipped.
func (te *TableExtractor) Extract(text string) []models.LineItem {
	text = NormalizeText(text)
	items := make([]models.LineItem, 0)

	loc := te.header.FindStringIndex(text)
	if loc == nil {
		te.logger.Debug("no item table header found")
		return items
	}

	for n, line := range strings.Split(text[loc[1]:], "\n") {
		tokens := SplitColumns(line)
		if len(tokens) == 0 {
			continue
		}

		item, ok := parseRow(tokens)
		if !ok {
			te.logger.WithFields(logger.Fields{
				"line":   n,
				"tokens": len(tokens),
			}).Debug("skipping table row")
			continue
		}
		items = append(items, item)
	}

	return items
}

// SplitColumns trims a row and splits it into non-empty column tokens
func SplitColumns(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	parts := columnSeparator.Split(line, -1)
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

func parseRow(tokens []string) (models.LineItem, bool) {
	switch {
	case len(tokens) >= 4:
		qty, err1 := models.ParseAmount(tokens[1])
		price, err2 := models.ParseAmount(tokens[2])
		amount, err3 := models.ParseAmount(tokens[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return models.LineItem{}, false
		}
		return models.NewLineItem(tokens[0], qty, price, amount), true

	case len(tokens) == 3:
		// OCR frequently drops the quantity column; assume a single unit.
		price, err1 := models.ParseAmount(tokens[1])
		amount, err2 := models.ParseAmount(tokens[2])
		if err1 != nil || err2 != nil {
			return models.LineItem{}, false
		}
		item := models.NewLineItem(tokens[0], decimal.NewFromInt(1), price, amount)
		item.QuantityInferred = true
		return item, true
	}

	return models.LineItem{}, false
}

// RenderTable writes items back as a header and multi-space separated rows.
// Items with an inferred quantity are rendered without the quantity column.
func RenderTable(items []models.LineItem) string {
	var b strings.Builder
	b.WriteString(strings.Join([]string{"Description", "Quantity", "Unit Price", "Amount"}, renderSeparator))
	b.WriteString("\n")

	for _, item := range items {
		cols := []string{strings.Join(strings.Fields(item.Description), " ")}
		if !item.QuantityInferred {
			cols = append(cols, item.Quantity.String())
		}
		cols = append(cols, item.UnitPrice.String(), item.Amount.String())
		b.WriteString(strings.Join(cols, renderSeparator))
		b.WriteString("\n")
	}

	return b.String()
}
