package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birdtrip/birdtrip-go/internal/errors"
)

func TestSlidingWindow_AcquireWithinLimit(t *testing.T) {
	t.Parallel()

	sw := NewSlidingWindow(3, time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, sw.Acquire(context.Background()), "acquire %d should not block", i)
	}
	assert.Equal(t, 3, sw.InFlight())
}

func TestSlidingWindow_TryAcquireAtCapacity(t *testing.T) {
	t.Parallel()

	sw := NewSlidingWindow(2, time.Hour)

	assert.True(t, sw.TryAcquire())
	assert.True(t, sw.TryAcquire())
	assert.False(t, sw.TryAcquire(), "third acquire should fail fast at capacity")
}

func TestSlidingWindow_BlocksUntilEviction(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		window := 100 * time.Millisecond
		sw := NewSlidingWindow(1, window)

		require.NoError(t, sw.Acquire(context.Background()))

		start := time.Now()
		require.NoError(t, sw.Acquire(context.Background()))
		elapsed := time.Since(start)

		assert.GreaterOrEqual(t, elapsed, window, "second acquire should wait for window eviction")
	})
}

func TestSlidingWindow_AcquireHonorsContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		sw := NewSlidingWindow(1, time.Hour)
		require.NoError(t, sw.Acquire(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := sw.Acquire(ctx)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	})
}

func TestSlidingWindow_NextFree(t *testing.T) {
	t.Parallel()

	sw := NewSlidingWindow(1, time.Hour)
	assert.Equal(t, time.Duration(0), sw.NextFree())

	require.NoError(t, sw.Acquire(context.Background()))
	assert.Positive(t, sw.NextFree())
}

func TestSlidingWindow_EvictsExpired(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		window := 50 * time.Millisecond
		sw := NewSlidingWindow(2, window)

		assert.True(t, sw.TryAcquire())
		assert.True(t, sw.TryAcquire())

		time.Sleep(window + 10*time.Millisecond)

		assert.Equal(t, 0, sw.InFlight())
		assert.True(t, sw.TryAcquire(), "slots should be free after the window passes")
	})
}
