package resilience

import (
	"context"
	"log/slog"
	"sync"

	"github.com/birdtrip/birdtrip-go/internal/cache"
	"github.com/birdtrip/birdtrip-go/internal/errors"
	"github.com/birdtrip/birdtrip-go/internal/observability/metrics"
)

// Request describes one guarded call to an external dependency.
type Request struct {
	// Endpoint is the logical endpoint name; each endpoint gets its own
	// circuit breaker so unrelated endpoints never serialize.
	Endpoint string
	// CacheKey addresses the memoized result. Empty disables caching.
	CacheKey string
	// Class selects the TTL applied on write-through.
	Class cache.Class
	// DependsOn declares cache keys whose invalidation cascades to this one.
	DependsOn []string
	// Fetch performs the actual call.
	Fetch func(ctx context.Context) (any, error)
}

// Result carries a guarded call's value and how it was obtained.
type Result struct {
	Value     any
	FromCache bool
	Stale     bool
	Attempts  int
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Breaker         BreakerConfig
	Retry           RetryPolicy
	FallbackToStale bool
	// Metrics receives cache, breaker and retry observations. Nil disables
	// recording.
	Metrics *metrics.PipelineMetrics
}

// Executor composes the resilience layers around any external call, applied
// in order: cache-first read, circuit breaker, retry with backoff, cache
// write-through, and fallback to a stale cache value. The degradation
// guarantee: a caller never receives a hard failure if any prior answer for
// the same key exists, even an expired one.
type Executor struct {
	cfg      ExecutorConfig
	store    *cache.Store
	logger   *slog.Logger
	pipeline *metrics.PipelineMetrics

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewExecutor creates an Executor. store may be nil to disable caching and
// stale fallback; logger may be nil.
func NewExecutor(cfg ExecutorConfig, store *cache.Store, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		pipeline: cfg.Metrics,
		breakers: make(map[string]*Breaker),
	}
}

// BreakerFor returns the circuit breaker for the named endpoint, creating it
// on first use. Breakers are process-lifetime scoped per executor.
func (e *Executor) BreakerFor(endpoint string) *Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b, ok := e.breakers[endpoint]; ok {
		return b
	}
	b := NewBreaker(e.cfg.Breaker, endpoint, e.logger)
	e.breakers[endpoint] = b
	return b
}

// Execute runs the request through all resilience layers.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	// Layer 1: cache-first read
	if e.store != nil && req.CacheKey != "" {
		if v, ok := e.store.Get(req.CacheKey); ok {
			e.pipeline.RecordCacheHit(string(req.Class))
			return Result{Value: v, FromCache: true}, nil
		}
		e.pipeline.RecordCacheMiss(string(req.Class))
	}

	// Layer 2: circuit breaker
	breaker := e.BreakerFor(req.Endpoint)
	if err := breaker.Allow(); err != nil {
		e.pipeline.UpdateBreakerState(req.Endpoint, int(breaker.State()))
		if res, ok := e.staleFallback(req, err); ok {
			return res, nil
		}
		return Result{}, errors.Newf("endpoint %s unavailable: %w", req.Endpoint, err).
			Category(errors.CategoryCircuitOpen).
			Context("endpoint", req.Endpoint).
			Context("breaker_state", breaker.State().String()).
			Component("resilience").
			Build()
	}

	// Layer 3: retry with backoff; every real call outcome feeds the breaker
	calls := 0
	value, attempts, err := Retry(ctx, e.cfg.Retry, e.logger, func(ctx context.Context) (any, error) {
		calls++
		if calls > 1 {
			// Re-check the breaker between attempts: a failure that tripped
			// the circuit must stop the remaining retries from contacting
			// the endpoint.
			if aerr := breaker.Allow(); aerr != nil {
				return nil, aerr
			}
			e.pipeline.RecordRetry(req.Endpoint)
		}
		v, ferr := req.Fetch(ctx)
		if ferr != nil {
			breaker.RecordFailure()
			return nil, ferr
		}
		breaker.RecordSuccess()
		return v, nil
	})
	e.pipeline.UpdateBreakerState(req.Endpoint, int(breaker.State()))

	if err != nil {
		if res, ok := e.staleFallback(req, err); ok {
			res.Attempts = attempts
			return res, nil
		}
		return Result{}, errors.Newf("call to %s failed: %w", req.Endpoint, err).
			Context("endpoint", req.Endpoint).
			Context("attempts", attempts).
			Context("fallback_available", false).
			Component("resilience").
			Build()
	}

	// Write through with the TTL class of the data kind
	if e.store != nil && req.CacheKey != "" {
		e.store.Set(req.CacheKey, value, req.Class, req.DependsOn...)
	}

	return Result{Value: value, Attempts: attempts}, nil
}

// staleFallback tries to satisfy the request from a possibly expired cache
// entry. Returns ok=false when degradation is disabled or nothing is cached.
func (e *Executor) staleFallback(req Request, cause error) (Result, bool) {
	if !e.cfg.FallbackToStale || e.store == nil || req.CacheKey == "" {
		return Result{}, false
	}

	value, found, stale := e.store.GetStale(req.CacheKey)
	if !found {
		return Result{}, false
	}

	if e.logger != nil {
		e.logger.Warn("degrading to cached value",
			"endpoint", req.Endpoint,
			"cache_key", req.CacheKey,
			"stale", stale,
			"cause", cause.Error())
	}
	e.pipeline.RecordStaleServed(req.Endpoint)

	return Result{Value: value, FromCache: true, Stale: stale}, true
}
