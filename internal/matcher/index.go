package matcher

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"invoice-variance-service/internal/models"
)

// CatalogIndex holds catalog entries with their descriptions pre-folded,
// so that one catalog can be matched against many invoice lines without
// re-folding it for every item.
type CatalogIndex struct {
	entries []indexedEntry
	skipped int
}

type indexedEntry struct {
	entry  models.CatalogEntry
	needle string
}

// NewCatalogIndex folds every catalog description once.
// Entries with a blank description can never match and are left out.
func NewCatalogIndex(catalog models.Catalog) *CatalogIndex {
	index := &CatalogIndex{
		entries: make([]indexedEntry, 0, len(catalog)),
	}

	for _, entry := range catalog {
		needle := Fold(entry.Description)
		if needle == "" {
			index.skipped++
			continue
		}
		index.entries = append(index.entries, indexedEntry{entry: entry, needle: needle})
	}

	return index
}

// Lookup returns every entry whose folded description is contained in the
// folded item description, in catalog order.
func (ci *CatalogIndex) Lookup(description string) []models.CatalogEntry {
	haystack := Fold(description)
	if haystack == "" {
		return nil
	}

	var found []models.CatalogEntry
	for _, e := range ci.entries {
		if strings.Contains(haystack, e.needle) {
			found = append(found, e.entry)
		}
	}
	return found
}

// Len returns the number of matchable entries
func (ci *CatalogIndex) Len() int {
	return len(ci.entries)
}

// Skipped returns the number of entries left out for a blank description
func (ci *CatalogIndex) Skipped() int {
	return ci.skipped
}

// Fold produces the comparison key of a description: NFKC-normalised,
// case-folded and with whitespace runs collapsed to a single space.
func Fold(s string) string {
	// A Caser keeps state between calls, so each call gets its own.
	folded := cases.Fold().String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(folded), " ")
}
