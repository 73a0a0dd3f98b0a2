package ratelimit

import (
	"context"
	"time"

	"github.com/liamashdown/polyanalytics/internal/metrics"
)

// Gate admits at most one caller per interval. Waiters queue behind each other,
// so N concurrent callers take at least (N-1) intervals to all pass.
type Gate struct {
	interval time.Duration
	slot     chan struct{}
	last     time.Time // guarded by slot
}

// New creates a gate with the given minimum spacing between admissions.
func New(interval time.Duration) *Gate {
	if interval < 0 {
		interval = 0
	}
	return &Gate{
		interval: interval,
		slot:     make(chan struct{}, 1),
	}
}

// Interval returns the configured spacing.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Wait blocks until the caller may issue its request or context is cancelled
func (g *Gate) Wait(ctx context.Context) error {
	start := time.Now()

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()

	if wait := g.interval - time.Since(g.last); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	g.last = time.Now()
	metrics.GateWait.Observe(time.Since(start).Seconds())
	return nil
}
