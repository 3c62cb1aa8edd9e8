package trip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/birdtrip/birdtrip-go/internal/cache"
	"github.com/birdtrip/birdtrip-go/internal/ebird"
	"github.com/birdtrip/birdtrip-go/internal/errors"
	"github.com/birdtrip/birdtrip-go/internal/resilience"
)

// ObservationSource is the slice of the eBird client the pipeline consumes.
// *ebird.Client satisfies it; tests substitute fakes.
type ObservationSource interface {
	RecentObservations(ctx context.Context, regionCode, speciesCode string, backDays int) ([]ebird.Observation, error)
	RegionSpeciesList(ctx context.Context, regionCode string) ([]string, error)
	NearbyHotspots(ctx context.Context, lat, lng, distKm float64) ([]ebird.Hotspot, error)
	Taxonomy(ctx context.Context, locale string) ([]ebird.TaxonomyEntry, error)
}

// FetchStrategy selects which endpoints a fetch batch uses, purely by the
// number of requested species.
type FetchStrategy string

const (
	// StrategySpeciesScoped queries the species-scoped endpoint directly.
	StrategySpeciesScoped FetchStrategy = "species-scoped"
	// StrategyRegionFiltered issues one region-scoped call and filters
	// client-side, avoiding a call per species for small batches.
	StrategyRegionFiltered FetchStrategy = "region-filtered"
	// StrategySpeciesList consults the region species list first, then
	// fetches species-scoped only for species confirmed present.
	StrategySpeciesList FetchStrategy = "species-list"
)

// regionFilterMaxSpecies is the largest batch served by a single
// region-scoped call.
const regionFilterMaxSpecies = 5

// strategyFor is a pure function of input cardinality so endpoint selection
// is testable in isolation from network code.
func strategyFor(n int) FetchStrategy {
	switch {
	case n <= 1:
		return StrategySpeciesScoped
	case n <= regionFilterMaxSpecies:
		return StrategyRegionFiltered
	default:
		return StrategySpeciesList
	}
}

// Fetcher is the parallel fetch stage. Calls go through the resilience
// executor; fan-out concurrency is bounded on top of the client's own worker
// permit pool.
type Fetcher struct {
	source        ObservationSource
	exec          *resilience.Executor
	maxConcurrent int
}

// NewFetcher creates a fetch stage. maxConcurrent bounds the fan-out; values
// below 1 fall back to the client default of 5.
func NewFetcher(source ObservationSource, exec *resilience.Executor, maxConcurrent int) *Fetcher {
	if maxConcurrent < 1 {
		maxConcurrent = 5
	}
	return &Fetcher{
		source:        source,
		exec:          exec,
		maxConcurrent: maxConcurrent,
	}
}

// Fetch retrieves recent observations for every requested species. Per-call
// failures are isolated: a failing species yields zero observations and a
// failure record, never a batch error. The batch fails only when zero calls
// succeed. Result order is not guaranteed; callers match by species code.
func (f *Fetcher) Fetch(ctx context.Context, species []SpeciesRef, region string, backDays int) ([]Observation, FetchStats, error) {
	stats := FetchStats{Attempted: len(species)}

	if len(species) == 0 {
		return nil, stats, errors.Newf("no species to fetch").
			Category(errors.CategoryValidation).
			Context("stage", StageFetch).
			Component("trip").
			Build()
	}
	if region == "" {
		return nil, stats, errors.Newf("region code is required").
			Category(errors.CategoryValidation).
			Context("stage", StageFetch).
			Component("trip").
			Build()
	}

	stats.Strategy = strategyFor(len(species))
	start := time.Now()

	logger.Info("fetch batch starting",
		"strategy", stats.Strategy,
		"species", len(species),
		"region", region,
		"back_days", backDays)

	var observations []Observation
	switch stats.Strategy {
	case StrategyRegionFiltered:
		observations = f.fetchRegionFiltered(ctx, species, region, backDays, &stats)
	case StrategySpeciesList:
		observations = f.fetchViaSpeciesList(ctx, species, region, backDays, &stats)
	default:
		observations = f.fetchPerSpecies(ctx, species, region, backDays, &stats)
	}

	stats.Observations = len(observations)
	stats.Elapsed = time.Since(start)

	logger.Info("fetch batch complete",
		"strategy", stats.Strategy,
		"attempted", stats.Attempted,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"observations", stats.Observations,
		"elapsed_ms", stats.Elapsed.Milliseconds())

	if stats.Succeeded == 0 {
		return nil, stats, errors.Newf("all %d fetch calls failed", stats.Attempted).
			Category(errors.CategoryInsufficientData).
			Context("stage", StageFetch).
			Context("failed", stats.Failed).
			Component("trip").
			Build()
	}

	return observations, stats, nil
}

// fetchPerSpecies fans out one species-scoped call per species.
func (f *Fetcher) fetchPerSpecies(ctx context.Context, species []SpeciesRef, region string, backDays int, stats *FetchStats) []Observation {
	var (
		mu           sync.Mutex
		observations []Observation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrent)

	for _, ref := range species {
		ref := ref
		g.Go(func() error {
			obs, err := f.fetchOneSpecies(gctx, region, ref, backDays)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				stats.FailedSpecies = append(stats.FailedSpecies, SpeciesFailure{
					Species: ref,
					Reason:  failureReason(gctx, err),
				})
				return nil
			}
			stats.Succeeded++
			observations = append(observations, obs...)
			return nil
		})
	}
	_ = g.Wait()

	return observations
}

// fetchOneSpecies issues a single species-scoped call through the executor.
func (f *Fetcher) fetchOneSpecies(ctx context.Context, region string, ref SpeciesRef, backDays int) ([]Observation, error) {
	callID := uuid.NewString()

	res, err := f.exec.Execute(ctx, resilience.Request{
		Endpoint: "obs-species",
		CacheKey: fmt.Sprintf("obs:%s:%s:%d", region, ref.Code, backDays),
		Class:    cache.ClassObservation,
		Fetch: func(ctx context.Context) (any, error) {
			return f.source.RecentObservations(ctx, region, ref.Code, backDays)
		},
	})
	if err != nil {
		return nil, err
	}

	raw, ok := res.Value.([]ebird.Observation)
	if !ok {
		return nil, errors.Newf("unexpected cached value type for species %s", ref.Code).
			Category(errors.CategoryProcessing).
			Component("trip").
			Build()
	}
	if res.Stale {
		logger.Warn("serving stale observations", "species", ref.Code, "region", region)
	}

	return convertObservations(raw, ref, callID), nil
}

// fetchRegionFiltered issues one region-scoped call and splits the result by
// requested species.
func (f *Fetcher) fetchRegionFiltered(ctx context.Context, species []SpeciesRef, region string, backDays int, stats *FetchStats) []Observation {
	callID := uuid.NewString()

	res, err := f.exec.Execute(ctx, resilience.Request{
		Endpoint: "obs-region",
		CacheKey: fmt.Sprintf("obs:%s:all:%d", region, backDays),
		Class:    cache.ClassObservation,
		Fetch: func(ctx context.Context) (any, error) {
			return f.source.RecentObservations(ctx, region, "", backDays)
		},
	})
	if err != nil {
		// One shared call must not fail the whole batch; isolate failures by
		// falling back to per-species calls
		logger.Warn("region-scoped call failed, falling back to per-species calls",
			"region", region, "error", err)
		return f.fetchPerSpecies(ctx, species, region, backDays, stats)
	}

	raw, ok := res.Value.([]ebird.Observation)
	if !ok {
		return f.fetchPerSpecies(ctx, species, region, backDays, stats)
	}

	byCode := make(map[string][]ebird.Observation)
	for _, o := range raw {
		byCode[o.SpeciesCode] = append(byCode[o.SpeciesCode], o)
	}

	var observations []Observation
	for _, ref := range species {
		stats.Succeeded++
		observations = append(observations, convertObservations(byCode[ref.Code], ref, callID)...)
	}
	return observations
}

// fetchViaSpeciesList consults the region species list, then fetches
// species-scoped only for species the region has ever reported. Species not
// on the list fail fast without an observation call.
func (f *Fetcher) fetchViaSpeciesList(ctx context.Context, species []SpeciesRef, region string, backDays int, stats *FetchStats) []Observation {
	listKey := "spplist:" + region

	res, err := f.exec.Execute(ctx, resilience.Request{
		Endpoint: "species-list",
		CacheKey: listKey,
		Class:    cache.ClassTaxonomy,
		Fetch: func(ctx context.Context) (any, error) {
			return f.source.RegionSpeciesList(ctx, region)
		},
	})
	if err != nil {
		// No pre-check available; fall back to one call per species
		logger.Warn("region species list unavailable, falling back to per-species calls",
			"region", region, "error", err)
		return f.fetchPerSpecies(ctx, species, region, backDays, stats)
	}

	codes, ok := res.Value.([]string)
	if !ok {
		return f.fetchPerSpecies(ctx, species, region, backDays, stats)
	}

	present := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		present[c] = struct{}{}
	}

	var confirmed []SpeciesRef
	for _, ref := range species {
		if _, ok := present[ref.Code]; ok {
			confirmed = append(confirmed, ref)
			continue
		}
		stats.Failed++
		stats.FailedSpecies = append(stats.FailedSpecies, SpeciesFailure{
			Species: ref,
			Reason:  fmt.Sprintf("never reported in region %s", region),
		})
	}

	if len(confirmed) == 0 {
		return nil
	}
	return f.fetchPerSpecies(ctx, confirmed, region, backDays, stats)
}

// convertObservations maps API records onto pipeline observations, tagging
// each with the producing call for provenance. Records without finite
// coordinates are dropped; every kept record carries a valid species
// reference.
func convertObservations(raw []ebird.Observation, ref SpeciesRef, callID string) []Observation {
	observations := make([]Observation, 0, len(raw))
	for i := range raw {
		r := &raw[i]
		if !ValidCoordinates(Point{Lat: r.Latitude, Lng: r.Longitude}) {
			continue
		}

		observedAt, err := r.ObsTime()
		if err != nil {
			observedAt = time.Time{}
		}

		observations = append(observations, Observation{
			Species:      ref,
			LocationID:   r.LocationID,
			LocationName: r.LocationName,
			Lat:          r.Latitude,
			Lng:          r.Longitude,
			ObservedAt:   observedAt,
			Count:        r.HowMany,
			Notable:      !r.Valid,
			FetchCallID:  callID,
		})
	}
	return observations
}

// failureReason distinguishes a caller-deadline abort from an ordinary call
// failure.
func failureReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "failed-by-timeout: " + err.Error()
	}
	return err.Error()
}
