package reconciler

import (
	"context"
	"sync"
	"time"

	"invoice-variance-service/internal/matcher"
	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/errors"
	"invoice-variance-service/pkg/logger"
)

// BatchItem is the outcome for one document of a batch, in input order
type BatchItem struct {
	Source string
	Result *models.ComparisonResult
	Err    error
}

// BatchResult collects the outcomes of ReconcileBatch
type BatchResult struct {
	Items     []BatchItem
	Succeeded int
	Failed    int
}

// Results returns the successful results in input order
func (br *BatchResult) Results() []*models.ComparisonResult {
	results := make([]*models.ComparisonResult, 0, br.Succeeded)
	for _, item := range br.Items {
		if item.Result != nil {
			results = append(results, item.Result)
		}
	}
	return results
}

// ReconcileBatch reconciles independent invoices concurrently against one
// shared catalog. A failing document does not stop the others; its error is
// kept on its BatchItem. Documents not yet started when ctx is cancelled are
// marked with a cancellation error and the context error is returned.
func (e *Engine) ReconcileBatch(ctx context.Context, docs []models.RawInvoiceText, catalog models.Catalog, config *Config) (*BatchResult, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m, err := matcher.NewCatalogMatcher(catalog, matcher.NewMatchingConfig(config.Tolerance))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "tolerance", config.Tolerance.String(), err)
	}

	e.logger.WithFields(logger.Fields{
		"documents":   len(docs),
		"catalog":     len(catalog),
		"concurrency": config.MaxConcurrency,
	}).Info("starting batch reconciliation")

	progress := logger.NewProgressTracker(e.logger, "reconcile", len(docs), 2*time.Second)
	items := make([]BatchItem, len(docs))
	semaphore := make(chan struct{}, config.MaxConcurrency)
	var wg sync.WaitGroup

	for i, doc := range docs {
		items[i].Source = doc.Source
		if ctx.Err() != nil {
			items[i].Err = errors.InternalError(errors.CodeCancelled, "batch reconciliation", ctx.Err())
			continue
		}

		select {
		case <-ctx.Done():
			items[i].Err = errors.InternalError(errors.CodeCancelled, "batch reconciliation", ctx.Err())
			continue
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, doc models.RawInvoiceText) {
			defer wg.Done()
			defer func() { <-semaphore }()

			// Each goroutine writes only its own slot.
			result, err := e.reconcile(doc, m, config.ValidateExtraction)
			items[i].Result = result
			items[i].Err = err
			if err != nil {
				e.logger.WithError(err).WithField("source", doc.Source).Warn("invoice skipped")
			}
			progress.Record(err)
		}(i, doc)
	}

	wg.Wait()
	progress.Complete()

	batch := &BatchResult{Items: items}
	for _, item := range items {
		if item.Err != nil {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
	}

	if err := ctx.Err(); err != nil {
		return batch, errors.InternalError(errors.CodeCancelled, "batch reconciliation", err)
	}
	return batch, nil
}
