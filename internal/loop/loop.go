// Package loop runs a function periodically with bounded stop latency.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/liamashdown/polyanalytics/internal/metrics"
	"github.com/sirupsen/logrus"
)

// StopGranularity is the longest a stop request waits to be noticed.
const StopGranularity = time.Second

// ErrAlreadyRunning is returned when Run is called on a running loop.
var ErrAlreadyRunning = errors.New("loop already running")

// Func is one cycle of work. Returned errors are logged; the loop keeps going.
type Func func(ctx context.Context) error

// Options configures a Runner.
type Options struct {
	Name     string
	Interval time.Duration
	// MinTriggerGap rate-limits Trigger. Zero disables early runs entirely.
	MinTriggerGap time.Duration
}

// Runner calls its Func once immediately and then every Interval until stopped.
type Runner struct {
	opts    Options
	fn      Func
	log     *logrus.Logger
	trigger chan struct{}

	running     atomic.Bool
	cycles      atomic.Int64
	lastRunTS   atomic.Int64
	lastTrigger atomic.Int64
}

// New creates a runner. It does nothing until Run or Start.
func New(opts Options, fn Func, log *logrus.Logger) *Runner {
	return &Runner{
		opts:    opts,
		fn:      fn,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
}

// Start marks the loop running and runs it in its own goroutine. A Stop issued
// right after Start is never lost.
func (r *Runner) Start(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.WithField("loop", r.opts.Name).Warn("Loop not started: already running")
		return
	}
	go r.run(ctx)
}

// Run blocks until Stop is called or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	r.run(ctx)
	return nil
}

// run expects the running flag to be claimed already.
func (r *Runner) run(ctx context.Context) {
	defer r.running.Store(false)

	r.log.WithFields(logrus.Fields{
		"loop":     r.opts.Name,
		"interval": r.opts.Interval.String(),
	}).Info("Loop started")

	for r.running.Load() && ctx.Err() == nil {
		r.cycle(ctx)
		r.wait(ctx)
	}

	r.log.WithField("loop", r.opts.Name).Info("Loop stopped")
}

// Stop asks the loop to exit. It is noticed within StopGranularity; poll Running to confirm.
func (r *Runner) Stop() {
	r.running.Store(false)
}

// Running reports whether the loop goroutine is active.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Cycles is the number of completed cycles, failed ones included.
func (r *Runner) Cycles() int64 {
	return r.cycles.Load()
}

// LastRunTS is the unix time the last cycle finished, 0 before the first.
func (r *Runner) LastRunTS() int64 {
	return r.lastRunTS.Load()
}

// Trigger requests an early cycle. Requests closer together than MinTriggerGap are dropped.
func (r *Runner) Trigger() bool {
	if r.opts.MinTriggerGap <= 0 {
		return false
	}

	now := time.Now().UnixNano()
	last := r.lastTrigger.Load()
	if now-last < int64(r.opts.MinTriggerGap) {
		return false
	}
	if !r.lastTrigger.CompareAndSwap(last, now) {
		return false
	}

	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (r *Runner) cycle(ctx context.Context) {
	defer func() {
		r.cycles.Add(1)
		r.lastRunTS.Store(time.Now().Unix())
	}()
	defer func() {
		if p := recover(); p != nil {
			metrics.LoopPanics.WithLabelValues(r.opts.Name).Inc()
			r.log.WithFields(logrus.Fields{
				"loop":  r.opts.Name,
				"stack": string(debug.Stack()),
			}).Error(fmt.Sprintf("Recovered panic in loop cycle: %v", p))
		}
	}()

	if err := r.fn(ctx); err != nil {
		r.log.WithError(err).WithField("loop", r.opts.Name).Error("Loop cycle failed")
	}
}

// wait sleeps out the interval in short slices so Stop and cancellation are honored promptly.
func (r *Runner) wait(ctx context.Context) {
	deadline := time.Now().Add(r.opts.Interval)

	for r.running.Load() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		timer := time.NewTimer(min(remaining, StopGranularity))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.trigger:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
