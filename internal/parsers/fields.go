package parsers

import (
	"regexp"
	"strings"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/logger"
)

// Language tags of rule variants
const (
	LangEnglish = "en"
	LangArabic  = "ar"
)

// labelGap separates a label from its value on the same line
const labelGap = `[ \t]*[:#]?[ \t]*`

// amountValue captures a signed run of digits and separators up to the next
// whitespace, optionally preceded by a currency marker. The run is captured
// whole so that malformed numbers reach ParseAmount and get demoted.
const amountValue = `(?:[$€£]|SAR|USD|EUR|AED)?[ \t]*(-?[\d.,]+)(?:\s|$)`

// dateValue captures D/M/Y style dates as well as ISO-like Y/M/D ones
const dateValue = `(\d{1,2}[-/]\d{1,2}[-/]\d{2,4}|\d{4}[-/]\d{1,2}[-/]\d{1,2})`

// PatternVariant is one language rendering of a field's label and value shape.
// The first capture group holds the value.
type PatternVariant struct {
	Lang    string
	Pattern *regexp.Regexp
}

// FieldRule describes how one header field is found and typed
type FieldRule struct {
	Name     string
	Kind     models.FieldKind
	Variants []PatternVariant
}

func variant(lang, expr string) PatternVariant {
	return PatternVariant{Lang: lang, Pattern: regexp.MustCompile(`(?i)` + expr)}
}

// DefaultFieldRules is the bilingual rule table for invoice headers.
// Numeric, date and identifier values must sit on the label's line;
// vendor names may follow on the next line.
var DefaultFieldRules = []FieldRule{
	{
		Name: models.FieldInvoiceNumber,
		Kind: models.KindText,
		Variants: []PatternVariant{
			variant(LangEnglish, `\bInvoice[ \t]*(?:#|No\b\.?|Number\b)`+labelGap+`([A-Za-z0-9-]+)`),
			variant(LangArabic, `رقم[ \t]*الفاتورة`+labelGap+`([A-Za-z0-9-]+)`),
		},
	},
	{
		Name: models.FieldDate,
		Kind: models.KindDate,
		Variants: []PatternVariant{
			variant(LangEnglish, `\bDate`+labelGap+dateValue),
			variant(LangArabic, `التاريخ`+labelGap+dateValue),
		},
	},
	{
		Name: models.FieldTotalAmount,
		Kind: models.KindAmount,
		Variants: []PatternVariant{
			variant(LangEnglish, `\bTotal[ \t]*Amount`+labelGap+amountValue),
			variant(LangArabic, `(?:المبلغ[ \t]*الإجمالي|الإجمالي)`+labelGap+amountValue),
		},
	},
	{
		Name: models.FieldTax,
		Kind: models.KindAmount,
		Variants: []PatternVariant{
			variant(LangEnglish, `\b(?:Tax|VAT)\b(?:[ \t]*\([ \t]*\d+(?:\.\d+)?[ \t]*%[ \t]*\))?`+labelGap+amountValue),
			variant(LangArabic, `ضريبة[ \t]*القيمة[ \t]*المضافة`+labelGap+amountValue),
		},
	},
	{
		Name: models.FieldVendor,
		Kind: models.KindText,
		Variants: []PatternVariant{
			variant(LangEnglish, `\b(?:Vendor|Supplier|Company)(?:[ \t]*Name)?`+labelGap+`\s*([^\n]+)`),
			variant(LangArabic, `(?:المورد|الشركة)`+labelGap+`\s*([^\n]+)`),
		},
	},
}

// FieldExtractor pulls scalar header fields out of invoice text
type FieldExtractor struct {
	rules  []FieldRule
	logger logger.Logger
}

// NewFieldExtractor creates an extractor over DefaultFieldRules
func NewFieldExtractor() *FieldExtractor {
	return NewFieldExtractorWithRules(DefaultFieldRules)
}

// NewFieldExtractorWithRules creates an extractor over a custom rule table
func NewFieldExtractorWithRules(rules []FieldRule) *FieldExtractor {
	return &FieldExtractor{
		rules:  rules,
		logger: logger.WithComponent("field_extractor"),
	}
}

// Extract runs every rule against the text. Fields that no rule finds are
// absent from the result; values that cannot be normalised are kept raw
// with a warning.
func (fe *FieldExtractor) Extract(text string) models.FieldSet {
	text = NormalizeText(text)
	fields := make(models.FieldSet, len(fe.rules))

	for _, rule := range fe.rules {
		raw, lang, ok := findFirst(rule.Variants, text)
		if !ok {
			fe.logger.WithField("field", rule.Name).Debug("field not found")
			continue
		}

		field := NormalizeField(rule.Name, rule.Kind, raw)
		field.Source = rule.Name + ":" + lang
		if field.Warning != "" {
			fe.logger.WithFields(logger.Fields{
				"field": rule.Name,
				"raw":   raw,
			}).Warn(field.Warning)
		}
		fields[rule.Name] = field
	}

	return fields
}

// findFirst returns the value of the leftmost match across all variants.
// Ties keep the earlier variant.
func findFirst(variants []PatternVariant, text string) (value, lang string, ok bool) {
	best := -1
	for _, v := range variants {
		loc := v.Pattern.FindStringSubmatchIndex(text)
		if loc == nil || len(loc) < 4 || loc[2] < 0 {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			value = strings.TrimSpace(text[loc[2]:loc[3]])
			lang = v.Lang
		}
	}
	return value, lang, best != -1 && value != ""
}

// NormalizeField types a raw value according to kind
func NormalizeField(name string, kind models.FieldKind, raw string) models.ExtractedField {
	field := models.ExtractedField{
		Name: name,
		Kind: kind,
		Raw:  raw,
	}

	switch kind {
	case models.KindDate:
		d, err := models.ParseDate(raw)
		if err != nil {
			return demote(field, "unparsable date: "+raw)
		}
		field.Date = d
	case models.KindAmount:
		a, err := models.ParseAmount(raw)
		if err != nil {
			return demote(field, "unparsable amount: "+raw)
		}
		field.Amount = a
	default:
		field.Text = raw
	}
	return field
}

func demote(field models.ExtractedField, warning string) models.ExtractedField {
	field.Kind = models.KindText
	field.Text = field.Raw
	field.Warning = warning
	return field
}

// KindOf returns the value kind of a known header field, or text
func KindOf(name string) models.FieldKind {
	for _, rule := range DefaultFieldRules {
		if rule.Name == name {
			return rule.Kind
		}
	}
	return models.KindText
}
