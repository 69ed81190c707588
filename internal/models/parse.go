package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// dateLayouts is tried in order, first successful parse wins.
// Years must have four digits.
var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2006/1/2",
	"2006-1-2",
}

// amountShape accepts an optional sign, comma thousands groups and a
// decimal point. Anything else, like "1.234,50", is rejected.
var amountShape = regexp.MustCompile(`^[-+]?(?:\d{1,3}(?:,\d{3})+|\d+)(?:\.\d+)?$`)

// ParseDate normalises a day/month/year or year/month/day string to UTC midnight
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(NormalizeDigits(s))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date string")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date '%s'", s)
}

// ParseAmount parses a monetary amount, stripping thousands separators and
// currency symbols. Arabic-Indic digits and separators are accepted.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := NormalizeDigits(strings.TrimSpace(s))
	cleaned = strings.NewReplacer(" ", "", "$", "").Replace(cleaned)

	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount string")
	}
	if !amountShape.MatchString(cleaned) {
		return decimal.Zero, fmt.Errorf("invalid amount '%s'", s)
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount '%s': %w", s, err)
	}
	return d, nil
}

// NormalizeDigits maps Arabic-Indic and Extended Arabic-Indic digits to ASCII,
// the Arabic decimal separator to '.' and drops the Arabic thousands separator.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r == '٫':
			return '.'
		case r == '٬':
			return -1
		}
		return r
	}, s)
}
