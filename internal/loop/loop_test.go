package loop

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRunnerRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	r := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, quietLogger())

	r.Start(context.Background())
	defer r.Stop()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, r.Running())
	assert.Eventually(t, func() bool { return r.Cycles() == 1 && r.LastRunTS() > 0 }, time.Second, 5*time.Millisecond)
}

func TestRunnerStopsWithinGranularity(t *testing.T) {
	r := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context) error {
		return nil
	}, quietLogger())

	done := make(chan struct{})
	go func() {
		_ = r.Run(context.Background())
		close(done)
	}()
	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)

	start := time.Now()
	r.Stop()
	select {
	case <-done:
	case <-time.After(3 * StopGranularity):
		t.Fatal("loop did not stop")
	}
	assert.LessOrEqual(t, time.Since(start), StopGranularity+500*time.Millisecond)
	assert.False(t, r.Running())
}

func TestRunnerSurvivesErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	r := New(Options{Name: "test", Interval: 10 * time.Millisecond}, func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			panic("boom")
		case 2:
			return errors.New("cycle failed")
		}
		return nil
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.Running())
}

func TestRunnerTrigger(t *testing.T) {
	var calls atomic.Int32
	r := New(Options{Name: "test", Interval: time.Hour, MinTriggerGap: time.Hour}, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, r.Trigger())
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// Inside the gap.
	assert.False(t, r.Trigger())
}

func TestRunnerTriggerDisabled(t *testing.T) {
	r := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context) error { return nil }, quietLogger())
	assert.False(t, r.Trigger())
}

func TestRunRejectsSecondCaller(t *testing.T) {
	r := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context) error { return nil }, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, r.Run(ctx), ErrAlreadyRunning)
}

func TestRunnerStopRightAfterStart(t *testing.T) {
	for i := 0; i < 20; i++ {
		r := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context) error { return nil }, quietLogger())

		r.Start(context.Background())
		assert.True(t, r.Running())
		r.Stop()

		require.Eventually(t, func() bool { return !r.Running() }, StopGranularity, 5*time.Millisecond,
			"iteration %d: loop still running after Stop", i)
	}
}

func TestStartTwiceKeepsOneLoop(t *testing.T) {
	var calls atomic.Int32
	r := New(Options{Name: "test", Interval: time.Hour}, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Start(ctx)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
