package avail

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit_SpacesCalls(t *testing.T) {
	limit := NewRateLimit(20)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, limit.Ready(ctx))
	}

	// first call is free, the next three wait 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestRateLimit_Concurrent(t *testing.T) {
	limit := NewRateLimit(50)
	ctx := context.Background()

	var wg sync.WaitGroup
	var lock sync.Mutex
	times := make([]time.Time, 0, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limit.Ready(ctx); err == nil {
				lock.Lock()
				times = append(times, time.Now())
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, times, 5)
	first, last := times[0], times[0]
	for _, value := range times {
		if value.Before(first) {
			first = value
		}
		if value.After(last) {
			last = value
		}
	}
	assert.GreaterOrEqual(t, last.Sub(first), 70*time.Millisecond)
}

func TestRateLimit_Unlimited(t *testing.T) {
	limit := NewRateLimit(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, limit.Ready(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRateLimit_Cancelled(t *testing.T) {
	limit := NewRateLimit(0.1)
	require.NoError(t, limit.Ready(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limit.Ready(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
