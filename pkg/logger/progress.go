package logger

import (
	"sync"
	"time"
)

// ProgressTracker logs periodic progress of a batch of invoices.
// It is safe for use by concurrent workers.
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int
	done        int
	failed      int
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mu          sync.Mutex
}

// NewProgressTracker creates a tracker; a zero interval defaults to five seconds
func NewProgressTracker(log Logger, operation string, total int, interval time.Duration) *ProgressTracker {
	if log == nil {
		log = GetGlobalLogger()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	now := time.Now()
	p := &ProgressTracker{
		logger:      log.WithComponent("progress"),
		operation:   operation,
		total:       total,
		startTime:   now,
		lastLogTime: now,
		logInterval: interval,
	}
	p.logger.WithFields(Fields{"operation": operation, "total": total}).Debug("starting")
	return p
}

// Record counts one finished unit of work
func (p *ProgressTracker) Record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if err != nil {
		p.failed++
	}

	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.lastLogTime = now
		p.logger.WithFields(Fields{
			"operation": p.operation,
			"done":      p.done,
			"total":     p.total,
			"failed":    p.failed,
		}).Info("progress")
	}
}

// Counts returns the finished and failed counters
func (p *ProgressTracker) Counts() (done, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done, p.failed
}

// Complete logs the final tally
func (p *ProgressTracker) Complete() {
	done, failed := p.Counts()
	p.logger.WithFields(Fields{
		"operation": p.operation,
		"done":      done,
		"failed":    failed,
		"elapsed":   time.Since(p.startTime).Round(time.Millisecond).String(),
	}).Info("completed")
}
