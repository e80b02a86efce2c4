package avail

import (
	"context"
	"sync"
	"time"
)

// RateLimit spaces out calls so that Ready returns at most callsPerSecond
// times per second, no matter how many goroutines are calling it.
//
//	limit := NewRateLimit(5)
//	for _, url := range urls {
//		if err := limit.Ready(ctx); err != nil {
//			return err
//		}
//		fetch(url)
//	}
type RateLimit struct {
	interval time.Duration

	mutex    sync.Mutex
	lastUsed time.Time
	// closed when the outstanding wait is released; nil when none
	waiting chan struct{}
}

// NewRateLimit creates a limiter. A rate <= 0 means no limit.
func NewRateLimit(callsPerSecond float64) *RateLimit {
	var interval time.Duration
	if callsPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / callsPerSecond)
	}
	return &RateLimit{interval: interval}
}

// Ready blocks until the caller may proceed. If another caller is already
// waiting, this waits behind it and then checks again.
func (r *RateLimit) Ready(ctx context.Context) error {
	for {
		r.mutex.Lock()
		if r.waiting != nil {
			waiting := r.waiting
			r.mutex.Unlock()

			select {
			case <-waiting:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		minimumWait := r.interval - time.Since(r.lastUsed)
		if minimumWait <= 0 {
			r.lastUsed = time.Now()
			r.mutex.Unlock()
			return nil
		}

		waiting := make(chan struct{})
		r.waiting = waiting
		r.mutex.Unlock()

		timer := time.NewTimer(minimumWait)
		select {
		case <-timer.C:
			r.release(waiting, true)
			return nil
		case <-ctx.Done():
			timer.Stop()
			r.release(waiting, false)
			return ctx.Err()
		}
	}
}

// release clears the outstanding wait and wakes everything queued on it.
// Woken callers re-check the interval, so only one of them proceeds.
func (r *RateLimit) release(waiting chan struct{}, used bool) {
	r.mutex.Lock()
	if used {
		r.lastUsed = time.Now()
	}
	r.waiting = nil
	r.mutex.Unlock()
	close(waiting)
}
