package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(Config{
		TaxonomyTTL:     time.Hour,
		ObservationTTL:  50 * time.Millisecond,
		HotspotTTL:      time.Hour,
		DefaultTTL:      time.Hour,
		MaxStaleEntries: 10,
	})
}

func TestStore_GetAfterSet(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Set("obs:US-NY", []string{"norcar", "blujay"}, ClassObservation)

	v, found := s.Get("obs:US-NY")
	require.True(t, found)
	assert.Equal(t, []string{"norcar", "blujay"}, v)
}

func TestStore_ExpiryReturnsAbsent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestStore()
		s.Set("obs:US-NY", "payload", ClassObservation)

		time.Sleep(60 * time.Millisecond)

		_, found := s.Get("obs:US-NY")
		assert.False(t, found, "expired entry must be absent from fresh lookups")
	})
}

func TestStore_GetStaleAfterExpiry(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := newTestStore()
		s.Set("obs:US-NY", "payload", ClassObservation)

		time.Sleep(60 * time.Millisecond)

		v, found, stale := s.GetStale("obs:US-NY")
		require.True(t, found)
		assert.True(t, stale)
		assert.Equal(t, "payload", v)
	})
}

func TestStore_GetStaleFresh(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Set("taxonomy:en", "entries", ClassTaxonomy)

	v, found, stale := s.GetStale("taxonomy:en")
	require.True(t, found)
	assert.False(t, stale)
	assert.Equal(t, "entries", v)
}

func TestStore_InvalidateCascades(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Set("taxonomy:en", "tax", ClassTaxonomy)
	s.Set("species:norcar", "cardinal", ClassTaxonomy, "taxonomy:en")
	s.Set("obs:norcar:US-NY", "observations", ClassObservation, "species:norcar")
	s.Set("unrelated", "kept", ClassHotspot)

	s.Invalidate("taxonomy:en")

	for _, key := range []string{"taxonomy:en", "species:norcar", "obs:norcar:US-NY"} {
		_, found, _ := s.GetStale(key)
		assert.False(t, found, "key %s should be invalidated", key)
	}

	_, found := s.Get("unrelated")
	assert.True(t, found, "unrelated key must survive the cascade")
}

func TestStore_InvalidateCyclicDependencies(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Set("a", 1, ClassDefault, "b")
	s.Set("b", 2, ClassDefault, "a")

	done := make(chan struct{})
	go func() {
		s.Invalidate("a")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cyclic invalidation did not terminate")
	}

	_, foundA := s.Get("a")
	_, foundB := s.Get("b")
	assert.False(t, foundA)
	assert.False(t, foundB)
}

func TestStore_StaleRetentionBounded(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	for i := 0; i < 25; i++ {
		s.Set(fmt.Sprintf("key-%d", i), i, ClassDefault)
	}

	s.mu.Lock()
	retained := len(s.lastKnown)
	s.mu.Unlock()

	assert.LessOrEqual(t, retained, 10)
}

func TestStore_Flush(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Set("key", "value", ClassDefault)
	s.Flush()

	_, found, _ := s.GetStale("key")
	assert.False(t, found)
	assert.Equal(t, 0, s.ItemCount())
}
