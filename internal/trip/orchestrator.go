package trip

import (
	"context"
	"fmt"
	"time"

	"github.com/birdtrip/birdtrip-go/internal/cache"
	"github.com/birdtrip/birdtrip-go/internal/conf"
	"github.com/birdtrip/birdtrip-go/internal/ebird"
	"github.com/birdtrip/birdtrip-go/internal/enhance"
	"github.com/birdtrip/birdtrip-go/internal/errors"
	"github.com/birdtrip/birdtrip-go/internal/observability/metrics"
	"github.com/birdtrip/birdtrip-go/internal/resilience"
)

// PlannerConfig carries the pipeline knobs the planner needs.
type PlannerConfig struct {
	Trip          conf.TripSettings
	Enhancer      conf.EnhancerSettings
	Locale        string // taxonomy locale for common names
	MaxConcurrent int    // fetch fan-out bound
}

// PlanRequest is one trip-planning invocation.
type PlanRequest struct {
	Region         string
	SpeciesNames   []string
	Origin         Point
	RadiusKm       float64
	DateFrom       time.Time
	DateTo         time.Time
	BackDays       int  // 0 uses the configured lookback
	MaxStops       int  // 0 uses the configured stop limit
	UseEnhancement bool // false forces the template fallback
}

// TripPlan is the orchestrator's terminal artifact.
type TripPlan struct {
	Region            string              `json:"region" yaml:"region"`
	Species           []SpeciesRef        `json:"species" yaml:"species"`
	Unresolved        []ResolutionFailure `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	FetchStats        FetchStats          `json:"fetch_stats" yaml:"fetch_stats"`
	FilterRelaxed     bool                `json:"filter_relaxed" yaml:"filter_relaxed"`
	Clusters          []HotspotCluster    `json:"clusters" yaml:"clusters"`
	Scored            []ScoredLocation    `json:"scored" yaml:"scored"`
	Route             Route               `json:"route" yaml:"route"`
	Summary           string              `json:"summary" yaml:"summary"`
	StopNotes         map[int]string      `json:"stop_notes,omitempty" yaml:"stop_notes,omitempty"`
	EnhancementSource string              `json:"enhancement_source" yaml:"enhancement_source"`
	Stages            []StageResult       `json:"stages" yaml:"stages"`
	StagesCompleted   []string            `json:"stages_completed" yaml:"stages_completed"`
	Elapsed           time.Duration       `json:"elapsed" yaml:"elapsed"`
}

// Planner orchestrates fetch, filter, cluster, score and route into a trip
// plan. Shared cache, circuit and rate-limit state live in the injected
// executor and source; independent planners with their own executors do not
// cross-talk.
type Planner struct {
	source    ObservationSource
	exec      *resilience.Executor
	resolver  *Resolver
	fetcher   *Fetcher
	clusterer *Clusterer
	enhancer  enhance.Enhancer
	fallback  enhance.Enhancer
	cfg       PlannerConfig
	pipeline  *metrics.PipelineMetrics
	now       func() time.Time
}

// NewPlanner wires a planner. enhancer may be nil; the deterministic template
// fallback is always available. pipeline may be nil.
func NewPlanner(source ObservationSource, exec *resilience.Executor, cfg PlannerConfig, enhancer enhance.Enhancer, pipeline *metrics.PipelineMetrics) *Planner {
	p := &Planner{
		source:    source,
		exec:      exec,
		enhancer:  enhancer,
		fallback:  enhance.NewTemplateFallback(),
		cfg:       cfg,
		pipeline:  pipeline,
		now:       time.Now,
	}
	p.resolver = NewResolver(p.cachedTaxonomy, nil)
	p.fetcher = NewFetcher(source, exec, cfg.MaxConcurrent)
	p.clusterer = NewClusterer(exec, source)
	return p
}

// cachedTaxonomy serves the full taxonomy through the executor so repeated
// resolutions hit the 24h cache.
func (p *Planner) cachedTaxonomy(ctx context.Context) ([]ebird.TaxonomyEntry, error) {
	res, err := p.exec.Execute(ctx, resilience.Request{
		Endpoint: "taxonomy",
		CacheKey: "taxonomy:" + p.cfg.Locale,
		Class:    cache.ClassTaxonomy,
		Fetch: func(ctx context.Context) (any, error) {
			return p.source.Taxonomy(ctx, p.cfg.Locale)
		},
	})
	if err != nil {
		return nil, err
	}
	taxonomy, ok := res.Value.([]ebird.TaxonomyEntry)
	if !ok {
		return nil, errors.Newf("unexpected cached taxonomy type").
			Category(errors.CategoryProcessing).
			Component("trip").
			Build()
	}
	return taxonomy, nil
}

// ResolveSpecies validates requested names against the cached taxonomy.
func (p *Planner) ResolveSpecies(ctx context.Context, names []string) ([]SpeciesRef, []ResolutionFailure, error) {
	return p.resolver.Resolve(ctx, names)
}

// PlanTrip runs the full pipeline. Stage failures follow the propagation
// policy: validation errors surface immediately, a total fetch failure is the
// only mid-pipeline hard error, and later stages degrade to partial statuses
// so whatever downstream artifact is possible still comes back.
func (p *Planner) PlanTrip(ctx context.Context, req PlanRequest) (*TripPlan, error) {
	start := p.now()

	if err := p.validateRequest(req); err != nil {
		return nil, err
	}

	maxStops := req.MaxStops
	if maxStops <= 0 {
		maxStops = p.cfg.Trip.MaxStops
	}
	backDays := req.BackDays
	if backDays <= 0 {
		backDays = p.cfg.Trip.LookbackDays
	}

	plan := &TripPlan{Region: req.Region}

	species, unresolved, err := p.resolver.Resolve(ctx, req.SpeciesNames)
	if err != nil {
		return nil, err
	}
	plan.Species = species
	plan.Unresolved = unresolved
	if len(species) == 0 {
		return nil, errors.Newf("none of the %d requested species could be resolved", len(req.SpeciesNames)).
			Category(errors.CategoryValidation).
			Context("unresolved", len(unresolved)).
			Component("trip").
			Build()
	}

	// Stage 1: parallel fetch
	stageStart := p.now()
	observations, stats, err := p.fetcher.Fetch(ctx, species, req.Region, backDays)
	plan.FetchStats = stats
	if err != nil {
		p.recordStage(plan, StageFetch, StatusFailed, stageStart, err.Error())
		return plan, errors.Newf("fetch stage failed: %w", err).
			Context("stage", StageFetch).
			Context("attempted", stats.Attempted).
			Component("trip").
			Build()
	}
	fetchStatus := StatusSuccess
	if stats.Failed > 0 {
		fetchStatus = StatusPartial
	}
	p.recordStage(plan, StageFetch, fetchStatus, stageStart,
		fmt.Sprintf("%d observations, %d/%d species", len(observations), stats.Succeeded, stats.Attempted))

	// Stage 2: constraint filter
	stageStart = p.now()
	constraint := Constraint{
		Origin:   req.Origin,
		RadiusKm: req.RadiusKm,
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
	}
	filtered := FilterObservations(observations, constraint, p.cfg.Trip)
	plan.FilterRelaxed = filtered.Relaxed
	filterStatus := StatusSuccess
	if filtered.InRange == 0 {
		filterStatus = StatusPartial
	}
	p.recordStage(plan, StageFilter, filterStatus, stageStart,
		fmt.Sprintf("%d of %d in range", filtered.InRange, len(filtered.Observations)))

	// Stage 3: spatial cluster with dual discovery
	stageStart = p.now()
	clusters := p.clusterer.Cluster(ctx, filtered.Observations, p.cfg.Trip.ClusterRadiusKm)
	plan.Clusters = clusters
	clusterStatus := StatusSuccess
	if len(clusters) == 0 {
		clusterStatus = StatusPartial
	}
	p.recordStage(plan, StageCluster, clusterStatus, stageStart,
		fmt.Sprintf("%d clusters", len(clusters)))

	// Stage 4: multi-criteria score, optionally enhanced
	stageStart = p.now()
	scored := ScoreClusters(clusters, species, req.Origin, p.now(), p.cfg.Trip)
	enhancement := p.enhanceScores(ctx, req, species, scored, maxStops)
	plan.Scored = scored
	plan.Summary = enhancement.Summary
	plan.StopNotes = enhancement.Notes
	plan.EnhancementSource = enhancement.Source
	p.recordStage(plan, StageScore, StatusSuccess, stageStart,
		fmt.Sprintf("%d scored, enhancement=%s", len(scored), enhancement.Source))

	// Stage 5: route optimization; never fails
	stageStart = p.now()
	plan.Route = OptimizeRoute(scored, req.Origin, maxStops, p.cfg.Trip.TwoOptMaxIterations)
	p.pipeline.RecordRouteStops(len(plan.Route.Stops))
	p.recordStage(plan, StageRoute, StatusSuccess, stageStart,
		fmt.Sprintf("%d stops, %.1f km", len(plan.Route.Stops), plan.Route.TotalDistanceKm))

	plan.Elapsed = p.now().Sub(start)

	logger.Info("trip plan complete",
		"region", req.Region,
		"species", len(species),
		"observations", len(observations),
		"clusters", len(clusters),
		"stops", len(plan.Route.Stops),
		"enhancement", plan.EnhancementSource,
		"elapsed_ms", plan.Elapsed.Milliseconds())

	return plan, nil
}

func (p *Planner) validateRequest(req PlanRequest) error {
	if req.Region == "" {
		return errors.Newf("region is required").
			Category(errors.CategoryValidation).
			Component("trip").
			Build()
	}
	if len(req.SpeciesNames) == 0 {
		return errors.Newf("at least one species is required").
			Category(errors.CategoryValidation).
			Component("trip").
			Build()
	}
	if !ValidCoordinates(req.Origin) {
		return errors.Newf("invalid origin coordinates: %f, %f", req.Origin.Lat, req.Origin.Lng).
			Category(errors.CategoryValidation).
			Component("trip").
			Build()
	}
	return nil
}

// enhanceScores runs the enhancer when enabled and applies its bounded score
// deltas, degrading to the deterministic template on any failure. The caller
// never sees an enhancement error.
func (p *Planner) enhanceScores(ctx context.Context, req PlanRequest, species []SpeciesRef, scored []ScoredLocation, maxStops int) *enhance.Enhancement {
	enhReq := buildEnhanceRequest(req, species, scored, maxStops)

	if req.UseEnhancement && p.cfg.Enhancer.Enabled && p.enhancer != nil {
		enhCtx, cancel := context.WithTimeout(ctx, p.enhancerTimeout())
		enhancement, err := p.enhancer.Enhance(enhCtx, enhReq)
		cancel()
		if err == nil && enhancement != nil {
			ApplyAdjustments(scored, enhancement.ScoreDeltas, p.cfg.Enhancer.MaxAdjustment)
			return enhancement
		}
		logger.Warn("enhancer unavailable, using template fallback", "error", err)
	}

	enhancement, _ := p.fallback.Enhance(ctx, enhReq)
	return enhancement
}

func (p *Planner) enhancerTimeout() time.Duration {
	if p.cfg.Enhancer.Timeout > 0 {
		return p.cfg.Enhancer.Timeout
	}
	return 15 * time.Second
}

func buildEnhanceRequest(req PlanRequest, species []SpeciesRef, scored []ScoredLocation, maxStops int) enhance.Request {
	targets := make([]string, len(species))
	for i, s := range species {
		targets[i] = s.Code
	}

	n := len(scored)
	if maxStops > 0 && maxStops < n {
		n = maxStops
	}
	candidates := make([]enhance.Candidate, 0, n)
	for _, loc := range scored[:n] {
		candidates = append(candidates, enhance.Candidate{
			ID:           loc.Cluster.ID,
			Name:         loc.Cluster.Name,
			Rank:         loc.Rank,
			Score:        loc.Score,
			SpeciesCodes: loc.Cluster.SpeciesCodes,
			DistanceKm:   HaversineKm(req.Origin, loc.Cluster.Centroid),
		})
	}

	return enhance.Request{
		Region:        req.Region,
		TargetSpecies: targets,
		Candidates:    candidates,
	}
}

func (p *Planner) recordStage(plan *TripPlan, stage, status string, start time.Time, detail string) {
	elapsed := p.now().Sub(start)
	plan.Stages = append(plan.Stages, StageResult{
		Stage:   stage,
		Status:  status,
		Elapsed: elapsed,
		Detail:  detail,
	})
	if status != StatusFailed {
		plan.StagesCompleted = append(plan.StagesCompleted, stage)
	}
	p.pipeline.RecordStage(stage, status, elapsed)
}
