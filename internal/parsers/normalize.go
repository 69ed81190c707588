package parsers

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"invoice-variance-service/internal/models"
)

// NormalizeText prepares OCR output for pattern matching.
//
// NFKC folds Arabic presentation forms back to their base letters, so that
// labels such as "التاريخ" match even when the OCR engine emitted the
// contextual glyph variants. It also turns non-breaking spaces into plain
// spaces. Arabic-Indic digits and separators are mapped to ASCII, and
// Windows line endings are reduced to '\n'.
func NormalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = models.NormalizeDigits(text)
	return strings.ReplaceAll(text, "\r\n", "\n")
}
