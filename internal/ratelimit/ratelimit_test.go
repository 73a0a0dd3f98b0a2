package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSpacesConcurrentCallers(t *testing.T) {
	const (
		callers  = 5
		interval = 50 * time.Millisecond
	)
	gate := New(interval)

	var (
		mu       sync.Mutex
		admitted []time.Time
		wg       sync.WaitGroup
	)

	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, gate.Wait(context.Background()))
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), (callers-1)*interval)
	require.Len(t, admitted, callers)
}

func TestGateFirstCallIsImmediate(t *testing.T) {
	gate := New(time.Hour)

	start := time.Now()
	require.NoError(t, gate.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestGateHonorsContext(t *testing.T) {
	gate := New(time.Hour)
	require.NoError(t, gate.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := gate.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
