package trip

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birdtrip/birdtrip-go/internal/cache"
	"github.com/birdtrip/birdtrip-go/internal/ebird"
	"github.com/birdtrip/birdtrip-go/internal/errors"
	"github.com/birdtrip/birdtrip-go/internal/resilience"
)

// fakeSource is an in-memory ObservationSource with per-species failure
// injection.
type fakeSource struct {
	mu            sync.Mutex
	bySpecies     map[string][]ebird.Observation
	speciesList   []string
	hotspots      []ebird.Hotspot
	taxonomy      []ebird.TaxonomyEntry
	failSpecies   map[string]error
	failRegion    error
	failHotspots  error
	failList      error
	speciesCalls  int
	regionCalls   int
	listCalls     int
	hotspotCalls  int
	taxonomyCalls int
}

func (f *fakeSource) RecentObservations(ctx context.Context, _, speciesCode string, _ int) ([]ebird.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Newf("call aborted: %w", err).Category(errors.CategoryCancellation).Build()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if speciesCode == "" {
		f.regionCalls++
		if f.failRegion != nil {
			return nil, f.failRegion
		}
		var all []ebird.Observation
		for _, obs := range f.bySpecies {
			all = append(all, obs...)
		}
		return all, nil
	}

	f.speciesCalls++
	if err, ok := f.failSpecies[speciesCode]; ok {
		return nil, err
	}
	return f.bySpecies[speciesCode], nil
}

func (f *fakeSource) RegionSpeciesList(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.failList != nil {
		return nil, f.failList
	}
	return f.speciesList, nil
}

func (f *fakeSource) NearbyHotspots(_ context.Context, _, _, _ float64) ([]ebird.Hotspot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hotspotCalls++
	if f.failHotspots != nil {
		return nil, f.failHotspots
	}
	return f.hotspots, nil
}

func (f *fakeSource) Taxonomy(_ context.Context, _ string) ([]ebird.TaxonomyEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taxonomyCalls++
	return f.taxonomy, nil
}

func newPipelineExecutor() *resilience.Executor {
	store := cache.New(cache.Config{MaxStaleEntries: 100})
	return resilience.NewExecutor(resilience.ExecutorConfig{
		Breaker: resilience.BreakerConfig{MaxFailures: 100, RecoveryTimeout: time.Hour, HalfOpenMaxTrials: 1},
		Retry: resilience.RetryPolicy{
			MaxRetries:   0,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}, store, nil)
}

func speciesRef(code string) SpeciesRef {
	return SpeciesRef{
		InputName:  code,
		Code:       code,
		CommonName: code,
		Method:     ResolutionExact,
		Confidence: 1.0,
	}
}

func rawObservation(speciesCode, locID string, lat, lng float64, daysAgo int) ebird.Observation {
	return ebird.Observation{
		SpeciesCode:     speciesCode,
		CommonName:      speciesCode,
		LocationID:      locID,
		LocationName:    "Location " + locID,
		ObservationDate: time.Now().AddDate(0, 0, -daysAgo).Format("2006-01-02 15:04"),
		HowMany:         2,
		Latitude:        lat,
		Longitude:       lng,
		Valid:           true,
	}
}

func TestStrategyFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want FetchStrategy
	}{
		{1, StrategySpeciesScoped},
		{2, StrategyRegionFiltered},
		{5, StrategyRegionFiltered},
		{6, StrategySpeciesList},
		{20, StrategySpeciesList},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, strategyFor(tt.n), "n=%d", tt.n)
	}
}

func TestFetch_SingleSpeciesScoped(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		bySpecies: map[string][]ebird.Observation{
			"norcar": {rawObservation("norcar", "L1", 42.0, -76.0, 1)},
		},
	}
	f := NewFetcher(source, newPipelineExecutor(), 5)

	obs, stats, err := f.Fetch(context.Background(), []SpeciesRef{speciesRef("norcar")}, "US-NY", 14)
	require.NoError(t, err)

	assert.Equal(t, StrategySpeciesScoped, stats.Strategy)
	assert.Equal(t, 1, stats.Succeeded)
	require.Len(t, obs, 1)
	assert.Equal(t, "norcar", obs[0].Species.Code)
	assert.NotEmpty(t, obs[0].FetchCallID, "observations carry fetch-call provenance")
	assert.Equal(t, 1, source.speciesCalls)
	assert.Zero(t, source.regionCalls)
}

func TestFetch_RegionFilteredSplitsBySpecies(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		bySpecies: map[string][]ebird.Observation{
			"norcar": {rawObservation("norcar", "L1", 42.0, -76.0, 1)},
			"blujay": {rawObservation("blujay", "L2", 42.1, -76.0, 2)},
			"amecro": {rawObservation("amecro", "L3", 42.2, -76.0, 3)},
		},
	}
	f := NewFetcher(source, newPipelineExecutor(), 5)

	refs := []SpeciesRef{speciesRef("norcar"), speciesRef("blujay")}
	obs, stats, err := f.Fetch(context.Background(), refs, "US-NY", 14)
	require.NoError(t, err)

	assert.Equal(t, StrategyRegionFiltered, stats.Strategy)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, source.regionCalls)
	assert.Zero(t, source.speciesCalls)

	// Only the requested species survive the client-side filter
	require.Len(t, obs, 2)
	codes := map[string]bool{}
	for _, o := range obs {
		codes[o.Species.Code] = true
	}
	assert.False(t, codes["amecro"])
}

func TestFetch_SpeciesListPreCheck(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		speciesList: []string{"sp1", "sp2", "sp3", "sp4", "sp5", "sp6"},
		bySpecies:   map[string][]ebird.Observation{},
	}
	var refs []SpeciesRef
	for i := 1; i <= 7; i++ {
		code := fmt.Sprintf("sp%d", i)
		refs = append(refs, speciesRef(code))
		if i <= 6 {
			source.bySpecies[code] = []ebird.Observation{
				rawObservation(code, fmt.Sprintf("L%d", i), 42.0+float64(i)*0.01, -76.0, 1),
			}
		}
	}
	f := NewFetcher(source, newPipelineExecutor(), 5)

	obs, stats, err := f.Fetch(context.Background(), refs, "US-NY", 14)
	require.NoError(t, err)

	assert.Equal(t, StrategySpeciesList, stats.Strategy)
	assert.Equal(t, 1, source.listCalls)
	assert.Equal(t, 6, source.speciesCalls, "only confirmed species get observation calls")
	assert.Equal(t, 6, stats.Succeeded)
	assert.Len(t, obs, 6)

	// sp7 is absent from the region list and fails fast with a record
	require.Len(t, stats.FailedSpecies, 1)
	assert.Equal(t, "sp7", stats.FailedSpecies[0].Species.Code)
	assert.Contains(t, stats.FailedSpecies[0].Reason, "never reported")
}

func TestFetch_PartialFailureIsolated(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		bySpecies: map[string][]ebird.Observation{
			"norcar": {rawObservation("norcar", "L1", 42.0, -76.0, 1)},
			"blujay": {rawObservation("blujay", "L2", 42.1, -76.0, 2)},
		},
		failRegion: errors.Newf("upstream hiccup").Category(errors.CategoryNetwork).Build(),
		failSpecies: map[string]error{
			"amecro": errors.Newf("upstream hiccup").Category(errors.CategoryNetwork).Build(),
		},
	}
	f := NewFetcher(source, newPipelineExecutor(), 5)

	refs := []SpeciesRef{speciesRef("norcar"), speciesRef("blujay"), speciesRef("amecro")}
	obs, stats, err := f.Fetch(context.Background(), refs, "US-NY", 14)
	require.NoError(t, err, "one failing species must not fail the batch")

	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.FailedSpecies, 1)
	assert.Equal(t, "amecro", stats.FailedSpecies[0].Species.Code)
	assert.Len(t, obs, 2)
}

func TestFetch_AllFailuresFailBatch(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		failSpecies: map[string]error{
			"norcar": errors.Newf("down").Category(errors.CategoryNetwork).Build(),
		},
	}
	f := NewFetcher(source, newPipelineExecutor(), 5)

	_, stats, err := f.Fetch(context.Background(), []SpeciesRef{speciesRef("norcar")}, "US-NY", 14)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInsufficientData))
	assert.Zero(t, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)
}

func TestFetch_CanceledContextRecordsTimeoutFailures(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		bySpecies: map[string][]ebird.Observation{
			"norcar": {rawObservation("norcar", "L1", 42.0, -76.0, 1)},
		},
	}
	f := NewFetcher(source, newPipelineExecutor(), 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, stats, err := f.Fetch(ctx, []SpeciesRef{speciesRef("norcar")}, "US-NY", 14)
	require.Error(t, err)
	require.Len(t, stats.FailedSpecies, 1)
	assert.Contains(t, stats.FailedSpecies[0].Reason, "failed-by-timeout")
}

func TestFetch_EmptyInputsRejected(t *testing.T) {
	t.Parallel()

	f := NewFetcher(&fakeSource{}, newPipelineExecutor(), 5)

	_, _, err := f.Fetch(context.Background(), nil, "US-NY", 14)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, _, err = f.Fetch(context.Background(), []SpeciesRef{speciesRef("norcar")}, "", 14)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestConvertObservations_DropsInvalidCoordinates(t *testing.T) {
	t.Parallel()

	raw := []ebird.Observation{
		rawObservation("norcar", "L1", 42.0, -76.0, 1),
		rawObservation("norcar", "L2", 91.0, -76.0, 1), // out of range
	}
	obs := convertObservations(raw, speciesRef("norcar"), "call-1")
	require.Len(t, obs, 1)
	assert.Equal(t, "L1", obs[0].LocationID)
	assert.Equal(t, "call-1", obs[0].FetchCallID)
}
