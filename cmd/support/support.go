// Package support wires the shared pipeline dependencies for CLI commands.
package support

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/birdtrip/birdtrip-go/internal/cache"
	"github.com/birdtrip/birdtrip-go/internal/conf"
	"github.com/birdtrip/birdtrip-go/internal/ebird"
	"github.com/birdtrip/birdtrip-go/internal/enhance"
	"github.com/birdtrip/birdtrip-go/internal/logging"
	"github.com/birdtrip/birdtrip-go/internal/observability/metrics"
	"github.com/birdtrip/birdtrip-go/internal/resilience"
	"github.com/birdtrip/birdtrip-go/internal/trip"
)

// Pipeline bundles the process-lifetime components a command needs. Cache,
// circuit states and the rate-limit window all live here, one namespace per
// pipeline instance.
type Pipeline struct {
	Client   *ebird.Client
	Executor *resilience.Executor
	Planner  *trip.Planner
	Metrics  *metrics.PipelineMetrics
	Registry *prometheus.Registry
}

// NewPipeline builds the client, executor and planner from settings. All
// components share one metrics collector on a private registry.
func NewPipeline(settings *conf.Settings) (*Pipeline, error) {
	registry := prometheus.NewRegistry()
	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, err
	}

	client, err := ebird.NewClient(ebird.Config{
		APIKey:         settings.EBird.APIKey,
		BaseURL:        settings.EBird.BaseURL,
		RequestTimeout: settings.EBird.RequestTimeout,
		MaxConcurrent:  settings.EBird.MaxConcurrent,
		MaxPerWindow:   settings.EBird.RateLimit.MaxPerWindow,
		Window:         settings.EBird.RateLimit.Window,
	}, pipelineMetrics)
	if err != nil {
		return nil, err
	}

	store := cache.New(cache.Config{
		TaxonomyTTL:     settings.Cache.TaxonomyTTL,
		ObservationTTL:  settings.Cache.ObservationTTL,
		HotspotTTL:      settings.Cache.HotspotTTL,
		MaxStaleEntries: settings.Cache.MaxStaleEntries,
	})

	executor := resilience.NewExecutor(resilience.ExecutorConfig{
		Breaker: resilience.BreakerConfig{
			MaxFailures:       settings.Breaker.MaxFailures,
			RecoveryTimeout:   settings.Breaker.RecoveryTimeout,
			HalfOpenMaxTrials: settings.Breaker.HalfOpenMaxTrials,
		},
		Retry: resilience.RetryPolicy{
			MaxRetries:   settings.Retry.MaxRetries,
			InitialDelay: settings.Retry.InitialDelay,
			MaxDelay:     settings.Retry.MaxDelay,
			Multiplier:   settings.Retry.Multiplier,
		},
		FallbackToStale: settings.Cache.FallbackToStale,
		Metrics:         pipelineMetrics,
	}, store, logging.ForService("resilience"))

	var enhancer enhance.Enhancer
	if settings.Enhancer.Enabled && settings.Enhancer.Endpoint != "" {
		enhancer, err = enhance.NewHTTPEnhancer(enhance.HTTPConfig{
			Endpoint:          settings.Enhancer.Endpoint,
			APIKey:            settings.Enhancer.APIKey,
			Timeout:           settings.Enhancer.Timeout,
			RequestsPerMinute: settings.Enhancer.RequestsPerMinute,
		})
		if err != nil {
			return nil, err
		}
	}

	planner := trip.NewPlanner(client, executor, trip.PlannerConfig{
		Trip:          settings.Trip,
		Enhancer:      settings.Enhancer,
		Locale:        settings.EBird.Locale,
		MaxConcurrent: int(settings.EBird.MaxConcurrent),
	}, enhancer, pipelineMetrics)

	return &Pipeline{
		Client:   client,
		Executor: executor,
		Planner:  planner,
		Metrics:  pipelineMetrics,
		Registry: registry,
	}, nil
}

// Close releases client resources.
func (p *Pipeline) Close() {
	if p.Client != nil {
		p.Client.Close()
	}
}
