package metrics

import (
	"sync/atomic"
	"time"
)

type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	conflicts       uint64
	totalDurationMs uint64
	recalculations  uint64
	ledgerConflicts uint64
	ledgerFailures  uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) Record(status int, duration time.Duration) {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	if status == 409 {
		atomic.AddUint64(&c.conflicts, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) Recalculated() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.recalculations, 1)
}

func (c *Collector) LedgerConflict() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.ledgerConflicts, 1)
}

func (c *Collector) LedgerFailure() {
	if c == nil {
		return
	}
	atomic.AddUint64(&c.ledgerFailures, 1)
}

// Snapshot reports the counters. A nil collector reports zeros.
func (c *Collector) Snapshot() map[string]any {
	if c == nil {
		c = &Collector{}
	}
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	conflicts := atomic.LoadUint64(&c.conflicts)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}
	return map[string]any{
		"requestsTotal":        total,
		"errorsTotal":          errs,
		"conflictsTotal":       conflicts,
		"avgDurationMs":        avg,
		"totalDurationMs":      totalMs,
		"recalculationsTotal":  atomic.LoadUint64(&c.recalculations),
		"ledgerConflictsTotal": atomic.LoadUint64(&c.ledgerConflicts),
		"ledgerFailuresTotal":  atomic.LoadUint64(&c.ledgerFailures),
	}
}
