// Package store persists reconciliation results as flat records and returns
// them in chronological order for trend analysis.
package store

import (
	"context"
	"sync"
	"time"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/internal/trends"
	"invoice-variance-service/pkg/errors"
)

// HistoryFilter bounds History by invoice date, both ends inclusive.
// When either bound is set, results without an invoice date are excluded.
type HistoryFilter struct {
	Start *time.Time
	End   *time.Time
}

// Bounded reports whether the filter restricts dates at all
func (f HistoryFilter) Bounded() bool {
	return f.Start != nil || f.End != nil
}

// Includes reports whether a result dated d passes the filter
func (f HistoryFilter) Includes(d *time.Time) bool {
	if !f.Bounded() {
		return true
	}
	if d == nil {
		return false
	}
	if f.Start != nil && d.Before(*f.Start) {
		return false
	}
	if f.End != nil && d.After(*f.End) {
		return false
	}
	return true
}

// HistoryStore keeps ComparisonResults between runs.
//
// History returns results ordered by invoice date, then by insertion order,
// with undated results last. Saving a result whose AnalysisID is already
// stored fails with CodeDuplicateRecord.
type HistoryStore interface {
	Save(ctx context.Context, result *models.ComparisonResult) error
	History(ctx context.Context, filter HistoryFilter) ([]*models.ComparisonResult, error)
	Close() error
}

// MemoryStore is a HistoryStore that lives only as long as the process.
// The trend command uses it for invoices reconciled on the fly.
type MemoryStore struct {
	mu      sync.RWMutex
	results []*models.ComparisonResult
	ids     map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (m *MemoryStore) Save(ctx context.Context, result *models.ComparisonResult) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, "save", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ids[result.AnalysisID]; ok {
		return errors.StorageError(errors.CodeDuplicateRecord, "save", nil).
			WithContext("analysis_id", result.AnalysisID)
	}
	m.ids[result.AnalysisID] = struct{}{}
	m.results = append(m.results, result)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, filter HistoryFilter) ([]*models.ComparisonResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "history", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.ComparisonResult, 0, len(m.results))
	for _, r := range m.results {
		if filter.Includes(r.InvoiceDate) {
			out = append(out, r)
		}
	}
	trends.SortChronologically(out)
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
