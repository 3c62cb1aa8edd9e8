package ebird

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/birdtrip/birdtrip-go/internal/errors"
	"github.com/birdtrip/birdtrip-go/internal/logging"
	"github.com/birdtrip/birdtrip-go/internal/observability/metrics"
	"github.com/birdtrip/birdtrip-go/internal/ratelimit"
)

// Package-level logger specific to ebird service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "ebird.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "ebird", serviceLevelVar)
	if err != nil {
		// Fallback: log error to standard log and disable service file logging
		log.Printf("Failed to initialize ebird file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "ebird")
		closeLogger = func() error { return nil }
	}
}

// Client provides rate-limited access to the eBird API. It enforces a
// rolling-window call budget per credential and bounds concurrency with a
// fixed-size worker permit pool; both are suspension points. Memoization and
// retries belong to the resilience layer wrapping this client.
type Client struct {
	config     Config
	httpClient *http.Client
	window     *ratelimit.SlidingWindow
	permits    *semaphore.Weighted
	pipeline   *metrics.PipelineMetrics

	// Client call counters
	stats struct {
		apiCalls      int64
		apiErrors     int64
		totalDuration time.Duration
		mu            sync.Mutex
	}
}

// NewClient creates a new eBird API client
func NewClient(config Config, pipeline *metrics.PipelineMetrics) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.Newf("eBird API key is required").
			Category(errors.CategoryConfiguration).
			Component("ebird").
			Build()
	}

	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = def.MaxConcurrent
	}
	if config.MaxPerWindow == 0 {
		config.MaxPerWindow = def.MaxPerWindow
	}
	if config.Window == 0 {
		config.Window = def.Window
	}

	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		window:     ratelimit.NewSlidingWindow(config.MaxPerWindow, config.Window),
		permits:    semaphore.NewWeighted(config.MaxConcurrent),
		pipeline:   pipeline,
	}

	logger.Info("eBird client initialized",
		"base_url", config.BaseURL,
		"request_timeout", config.RequestTimeout,
		"max_concurrent", config.MaxConcurrent,
		"max_per_window", config.MaxPerWindow,
		"window", config.Window,
		"api_key_configured", config.APIKey != "")

	return client, nil
}

// Close cleans up client resources
func (c *Client) Close() {
	logger.Info("Closing eBird client")
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing eBird logger: %v", err)
		}
	}
}

// RecentObservations retrieves recent observations for a region, optionally
// scoped to a single species. backDays bounds the lookback window (1-30).
func (c *Client) RecentObservations(ctx context.Context, regionCode, speciesCode string, backDays int) ([]Observation, error) {
	if regionCode == "" {
		return nil, errors.Newf("region code is required").
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}

	endpoint := "obs-region"
	u := fmt.Sprintf("%s/data/obs/%s/recent", c.config.BaseURL, url.PathEscape(regionCode))
	if speciesCode != "" {
		endpoint = "obs-species"
		u = fmt.Sprintf("%s/%s", u, url.PathEscape(speciesCode))
	}
	u = fmt.Sprintf("%s?back=%d", u, clampBackDays(backDays))

	var observations []Observation
	if err := c.doRequest(ctx, endpoint, u, &observations); err != nil {
		return nil, err
	}
	return observations, nil
}

// RecentNotableObservations retrieves recent notable (rare) observations for a region.
func (c *Client) RecentNotableObservations(ctx context.Context, regionCode string, backDays int) ([]Observation, error) {
	if regionCode == "" {
		return nil, errors.Newf("region code is required").
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}

	u := fmt.Sprintf("%s/data/obs/%s/recent/notable?back=%d",
		c.config.BaseURL, url.PathEscape(regionCode), clampBackDays(backDays))

	var observations []Observation
	if err := c.doRequest(ctx, "obs-notable", u, &observations); err != nil {
		return nil, err
	}
	return observations, nil
}

// NearbyObservations retrieves recent observations around a coordinate.
// distKm is clamped to the API maximum of 50 km.
func (c *Client) NearbyObservations(ctx context.Context, lat, lng, distKm float64, backDays int) ([]Observation, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, errors.Newf("invalid coordinates: %f, %f", lat, lng).
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}
	if distKm > 50 {
		distKm = 50
	}

	u := fmt.Sprintf("%s/data/obs/geo/recent?lat=%.4f&lng=%.4f&dist=%.1f&back=%d",
		c.config.BaseURL, lat, lng, distKm, clampBackDays(backDays))

	var observations []Observation
	if err := c.doRequest(ctx, "obs-nearby", u, &observations); err != nil {
		return nil, err
	}
	return observations, nil
}

// RegionSpeciesList retrieves the species codes ever reported in a region.
func (c *Client) RegionSpeciesList(ctx context.Context, regionCode string) ([]string, error) {
	if regionCode == "" {
		return nil, errors.Newf("region code is required").
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}

	u := fmt.Sprintf("%s/product/spplist/%s", c.config.BaseURL, url.PathEscape(regionCode))

	var codes []string
	if err := c.doRequest(ctx, "species-list", u, &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// NearbyHotspots retrieves known hotspots around a coordinate.
func (c *Client) NearbyHotspots(ctx context.Context, lat, lng, distKm float64) ([]Hotspot, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, errors.Newf("invalid coordinates: %f, %f", lat, lng).
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}
	if distKm > 50 {
		distKm = 50
	}

	u := fmt.Sprintf("%s/ref/hotspot/geo?lat=%.4f&lng=%.4f&dist=%.1f&fmt=json",
		c.config.BaseURL, lat, lng, distKm)

	var hotspots []Hotspot
	if err := c.doRequest(ctx, "hotspots", u, &hotspots); err != nil {
		return nil, err
	}
	return hotspots, nil
}

// Taxonomy retrieves the complete eBird taxonomy, optionally filtered by locale.
func (c *Client) Taxonomy(ctx context.Context, locale string) ([]TaxonomyEntry, error) {
	// eBird API defaults to CSV, we need to specify fmt=json
	u := fmt.Sprintf("%s/ref/taxonomy/ebird?fmt=json", c.config.BaseURL)
	if locale != "" {
		u = fmt.Sprintf("%s&locale=%s", u, url.QueryEscape(locale))
	}

	var taxonomy []TaxonomyEntry
	if err := c.doRequest(ctx, "taxonomy", u, &taxonomy); err != nil {
		return nil, err
	}
	return taxonomy, nil
}

// SpeciesTaxonomy retrieves taxonomy information for a specific species code.
func (c *Client) SpeciesTaxonomy(ctx context.Context, speciesCode string) (*TaxonomyEntry, error) {
	if speciesCode == "" {
		return nil, errors.Newf("species code is required").
			Category(errors.CategoryValidation).
			Component("ebird").
			Build()
	}

	u := fmt.Sprintf("%s/ref/taxonomy/ebird/%s?fmt=json", c.config.BaseURL, url.PathEscape(speciesCode))

	var entries []TaxonomyEntry
	if err := c.doRequest(ctx, "taxonomy", u, &entries); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, errors.Newf("species not found: %s", speciesCode).
			Category(errors.CategoryNotFound).
			Context("species_code", speciesCode).
			Component("ebird").
			Build()
	}

	return &entries[0], nil
}

// doRequest performs an HTTP GET with permit, rate-limit and timeout handling.
// Acquiring a worker permit and waiting for a rate-limit slot are both
// suspension points honoring ctx.
func (c *Client) doRequest(ctx context.Context, endpoint, requestURL string, result any) error {
	if err := c.permits.Acquire(ctx, 1); err != nil {
		return errors.Newf("worker permit wait aborted: %w", err).
			Category(errors.CategoryCancellation).
			Context("endpoint", endpoint).
			Component("ebird").
			Build()
	}
	defer c.permits.Release(1)

	if c.config.NonBlocking {
		if !c.window.TryAcquire() {
			c.pipeline.RecordAPICall(endpoint, "rate_limited", 0)
			return errors.Newf("rate limit window exhausted, next slot in %s", c.window.NextFree().Round(time.Second)).
				Category(errors.CategoryRateLimit).
				Context("endpoint", endpoint).
				Component("ebird").
				Build()
		}
	} else if err := c.window.Acquire(ctx); err != nil {
		return err
	}

	start := time.Now()

	c.stats.mu.Lock()
	c.stats.apiCalls++
	c.stats.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		c.recordError(endpoint, "error")
		return errors.Newf("failed to create HTTP request: %w", err).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Context("url", requestURL).
			Component("ebird").
			Build()
	}

	req.Header.Set("X-eBirdApiToken", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A deadline on the per-call context is a timeout, distinct from
		// transport errors so the resilience layer can treat them differently
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			c.recordError(endpoint, "timeout")
			logger.Warn("eBird API request timed out",
				"endpoint", endpoint,
				"url", requestURL,
				"timeout", c.config.RequestTimeout)
			return errors.Newf("request timed out after %s: %w", c.config.RequestTimeout, err).
				Category(errors.CategoryTimeout).
				Context("endpoint", endpoint).
				Context("url", requestURL).
				Component("ebird").
				Build()
		}

		c.recordError(endpoint, "error")
		logger.Error("eBird API request failed",
			"error", err,
			"endpoint", endpoint,
			"url", requestURL)
		return errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Context("url", requestURL).
			Component("ebird").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordError(endpoint, "error")
		return errors.Newf("failed to read response body: %w", err).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Context("status_code", resp.StatusCode).
			Component("ebird").
			Build()
	}

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(endpoint, requestURL, resp.StatusCode, bodyBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		c.recordError(endpoint, "error")
		logger.Error("eBird API returned non-JSON response",
			"status_code", resp.StatusCode,
			"content_type", contentType,
			"url", requestURL,
			"response_preview", preview(bodyBytes))
		return errors.Newf("eBird API returned non-JSON response (Content-Type: %s)", contentType).
			Category(errors.CategoryNetwork).
			Context("endpoint", endpoint).
			Context("content_type", contentType).
			Component("ebird").
			Build()
	}

	if result != nil {
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			c.recordError(endpoint, "error")
			logger.Error("Failed to parse eBird API response",
				"error", err,
				"url", requestURL,
				"response_size", len(bodyBytes),
				"response_preview", preview(bodyBytes))
			return errors.Newf("failed to parse response: %w", err).
				Category(errors.CategoryProcessing).
				Context("endpoint", endpoint).
				Context("response_size", len(bodyBytes)).
				Component("ebird").
				Build()
		}
	}

	duration := time.Since(start)
	c.pipeline.RecordAPICall(endpoint, "success", duration)

	c.stats.mu.Lock()
	c.stats.totalDuration += duration
	c.stats.mu.Unlock()

	logger.Debug("eBird API request successful",
		"endpoint", endpoint,
		"url", requestURL,
		"duration_ms", duration.Milliseconds(),
		"response_size", len(bodyBytes))

	return nil
}

// handleErrorResponse maps an HTTP error status to a categorized error.
func (c *Client) handleErrorResponse(endpoint, requestURL string, statusCode int, body []byte) error {
	c.recordError(endpoint, statusLabel(statusCode))

	var apiErr Error
	detail := string(body)
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Detail != "" {
		detail = apiErr.Detail
	}

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		logger.Error("eBird API authentication failed",
			"status_code", statusCode,
			"url", requestURL,
			"has_api_key", c.config.APIKey != "",
			"message", "Check your eBird API key in the configuration")
	} else {
		logger.Warn("eBird API error response",
			"status_code", statusCode,
			"endpoint", endpoint,
			"url", requestURL,
			"detail", detail)
	}

	return errors.Newf("eBird API error (status %d): %s", statusCode, detail).
		Category(categoryForStatus(statusCode)).
		Context("endpoint", endpoint).
		Context("status_code", statusCode).
		Context("url", requestURL).
		Component("ebird").
		Build()
}

func (c *Client) recordError(endpoint, status string) {
	c.stats.mu.Lock()
	c.stats.apiErrors++
	c.stats.mu.Unlock()
	c.pipeline.RecordAPICall(endpoint, status, 0)
}

// Metrics represents eBird client call counters
type Metrics struct {
	APICalls      int64         `json:"api_calls"`
	APIErrors     int64         `json:"api_errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// GetMetrics returns current client call counters
func (c *Client) GetMetrics() Metrics {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()

	m := Metrics{
		APICalls:      c.stats.apiCalls,
		APIErrors:     c.stats.apiErrors,
		TotalDuration: c.stats.totalDuration,
	}
	if m.APICalls > 0 {
		m.AvgDuration = time.Duration(int64(m.TotalDuration) / m.APICalls)
	}
	return m
}

// categoryForStatus determines the appropriate error category for an HTTP status code
func categoryForStatus(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryConfiguration
	case http.StatusTooManyRequests:
		return errors.CategoryRateLimit
	case http.StatusNotFound:
		return errors.CategoryNotFound
	case http.StatusBadRequest:
		return errors.CategoryValidation
	default:
		return errors.CategoryNetwork
	}
}

func statusLabel(statusCode int) string {
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	return "error"
}

func clampBackDays(backDays int) int {
	if backDays < 1 {
		return 1
	}
	if backDays > 30 {
		return 30
	}
	return backDays
}

func preview(body []byte) string {
	const maxPreview = 500
	if len(body) > maxPreview {
		return string(body[:maxPreview]) + "..."
	}
	return string(body)
}
