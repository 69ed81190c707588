// Package trends aggregates reconciliation results across invoices.
//
// Each distinct item description gets a variance history in the order the
// results are supplied, a mean, and a direction derived from the least-squares
// slope of that history. Callers supply results oldest first; the history
// store returns them that way, and SortChronologically orders loose results.
package trends

import (
	"math"
	"sort"
	"time"

	"invoice-variance-service/internal/models"
	"invoice-variance-service/pkg/logger"
)

// Fixed classification thresholds
const (
	// SlopeThreshold separates drift from noise in percentage points per invoice
	SlopeThreshold = 0.05

	// HighVarianceThreshold is the average variance percentage above which
	// an item is surfaced, independent of the reconciliation tolerance.
	HighVarianceThreshold = 10.0
)

// Analyze folds an ordered sequence of results into a TrendSummary
func Analyze(results []*models.ComparisonResult) models.TrendSummary {
	summary := models.TrendSummary{
		TotalInvoices:     len(results),
		Items:             make([]models.TrendRecord, 0),
		HighVarianceItems: make([]models.HighVarianceItem, 0),
	}
	if len(results) == 0 {
		return summary
	}

	totals := make([]float64, 0, len(results))
	index := make(map[string]int)

	for _, r := range results {
		if r == nil {
			continue
		}
		totals = append(totals, r.Summary.TotalVariance.InexactFloat64())
		extendPeriod(&summary, r.InvoiceDate)

		for _, a := range r.Items {
			desc := a.Item.Description
			i, ok := index[desc]
			if !ok {
				i = len(summary.Items)
				index[desc] = i
				summary.Items = append(summary.Items, models.TrendRecord{Description: desc})
			}
			summary.Items[i].History = append(summary.Items[i].History, a.VariancePercentage.InexactFloat64())
		}
	}

	summary.TotalInvoices = len(totals)
	summary.AverageVariance, summary.StdDev = meanStdDev(totals)
	summary.MinVariance, summary.MaxVariance = minMax(totals)

	for i := range summary.Items {
		rec := &summary.Items[i]
		rec.AverageVariance, _ = meanStdDev(rec.History)
		rec.Slope = Slope(rec.History)
		rec.Trend = Classify(rec.History)

		if math.Abs(rec.AverageVariance) > HighVarianceThreshold {
			summary.HighVarianceItems = append(summary.HighVarianceItems, models.HighVarianceItem{
				Description:     rec.Description,
				AverageVariance: rec.AverageVariance,
				Trend:           rec.Trend,
			})
		}
	}

	logger.WithComponent("trends").WithFields(logger.Fields{
		"invoices":      summary.TotalInvoices,
		"items":         len(summary.Items),
		"high_variance": len(summary.HighVarianceItems),
	}).Debug("trend analysis complete")

	return summary
}

// Classify labels a history by its slope. Histories shorter than two points are stable.
func Classify(history []float64) models.Trend {
	if len(history) < 2 {
		return models.TrendStable
	}
	switch slope := Slope(history); {
	case slope > SlopeThreshold:
		return models.TrendIncreasing
	case slope < -SlopeThreshold:
		return models.TrendDecreasing
	default:
		return models.TrendStable
	}
}

// Slope fits an ordinary least-squares line through (i, history[i]) and
// returns its slope, or 0 when fewer than two points are given.
func Slope(history []float64) float64 {
	n := float64(len(history))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range history {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// meanStdDev returns the mean and population standard deviation
func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

func minMax(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func extendPeriod(summary *models.TrendSummary, date *time.Time) {
	if date == nil {
		return
	}
	if summary.PeriodStart == nil || date.Before(*summary.PeriodStart) {
		d := *date
		summary.PeriodStart = &d
	}
	if summary.PeriodEnd == nil || date.After(*summary.PeriodEnd) {
		d := *date
		summary.PeriodEnd = &d
	}
}

// SortChronologically orders results by invoice date, oldest first.
// Undated results go last; ties keep their input order.
func SortChronologically(results []*models.ComparisonResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].InvoiceDate, results[j].InvoiceDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}
