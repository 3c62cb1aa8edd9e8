// Package ratelimit implements a rolling-window call budget for external APIs.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/birdtrip/birdtrip-go/internal/errors"
)

// SlidingWindow tracks call timestamps within a rolling window and blocks
// callers once the window is at capacity. Timestamps older than the window
// are evicted lazily before every decision.
type SlidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
	limit      int
	window     time.Duration
}

// NewSlidingWindow creates a window limiter allowing limit calls per window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
	}
}

// Acquire blocks until a call slot is available or ctx is done. On success a
// timestamp for the call is recorded.
func (sw *SlidingWindow) Acquire(ctx context.Context) error {
	for {
		sw.mu.Lock()
		sw.evict(time.Now())

		if len(sw.timestamps) < sw.limit {
			sw.timestamps = append(sw.timestamps, time.Now())
			sw.mu.Unlock()
			return nil
		}

		// Window is full, wait until the oldest timestamp leaves the window
		wait := time.Until(sw.timestamps[0].Add(sw.window))
		sw.mu.Unlock()

		if wait <= 0 {
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.Newf("rate limit wait aborted: %w", ctx.Err()).
				Category(errors.CategoryCancellation).
				Component("ratelimit").
				Build()
		}
	}
}

// TryAcquire records a call slot without blocking. It returns false when the
// window is at capacity.
func (sw *SlidingWindow) TryAcquire() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.evict(time.Now())

	if len(sw.timestamps) >= sw.limit {
		return false
	}

	sw.timestamps = append(sw.timestamps, time.Now())
	return true
}

// InFlight returns the number of calls currently counted in the window.
func (sw *SlidingWindow) InFlight() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.evict(time.Now())
	return len(sw.timestamps)
}

// NextFree returns how long a caller would have to wait for a slot.
// Zero means a slot is available now.
func (sw *SlidingWindow) NextFree() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.evict(time.Now())

	if len(sw.timestamps) < sw.limit {
		return 0
	}
	return time.Until(sw.timestamps[0].Add(sw.window))
}

// evict drops timestamps older than the window. Caller must hold sw.mu.
func (sw *SlidingWindow) evict(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(sw.timestamps) && !sw.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.timestamps = append(sw.timestamps[:0], sw.timestamps[i:]...)
	}
}
