package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/birdtrip/birdtrip-go/internal/errors"
)

// HTTPConfig configures the HTTP enhancer client.
type HTTPConfig struct {
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerMinute int
}

// HTTPEnhancer calls an external enhancement service with a single JSON
// request/response round trip, paced by a token-bucket limiter.
type HTTPEnhancer struct {
	config     HTTPConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPEnhancer creates an enhancer client for the configured endpoint.
func NewHTTPEnhancer(config HTTPConfig) (*HTTPEnhancer, error) {
	if config.Endpoint == "" {
		return nil, errors.Newf("enhancer endpoint is required").
			Category(errors.CategoryConfiguration).
			Component("enhance").
			Build()
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RequestsPerMinute < 1 {
		config.RequestsPerMinute = 10
	}

	return &HTTPEnhancer{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
	}, nil
}

// Enhance posts the payload and decodes the structured answer. Every failure
// is CategoryEnhancement; callers recover via the template fallback.
func (e *HTTPEnhancer) Enhance(ctx context.Context, req Request) (*Enhancement, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, errors.Newf("enhancer pacing wait aborted: %w", err).
			Category(errors.CategoryEnhancement).
			Component("enhance").
			Build()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Newf("failed to encode enhancement request: %w", err).
			Category(errors.CategoryEnhancement).
			Component("enhance").
			Build()
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Newf("failed to create enhancement request: %w", err).
			Category(errors.CategoryEnhancement).
			Component("enhance").
			Build()
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn("enhancement request failed", "error", err, "endpoint", e.config.Endpoint)
		return nil, errors.Newf("enhancement request failed: %w", err).
			Category(errors.CategoryEnhancement).
			Component("enhance").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf("failed to read enhancement response: %w", err).
			Category(errors.CategoryEnhancement).
			Component("enhance").
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		logger.Warn("enhancement service error",
			"status_code", resp.StatusCode,
			"endpoint", e.config.Endpoint)
		return nil, errors.Newf("enhancement service returned status %d", resp.StatusCode).
			Category(errors.CategoryEnhancement).
			Context("status_code", resp.StatusCode).
			Component("enhance").
			Build()
	}

	var enhancement Enhancement
	if err := json.Unmarshal(body, &enhancement); err != nil {
		return nil, errors.Newf("failed to parse enhancement response: %w", err).
			Category(errors.CategoryEnhancement).
			Component("enhance").
			Build()
	}
	enhancement.Source = "llm"

	logger.Debug("enhancement received",
		"candidates", len(req.Candidates),
		"deltas", len(enhancement.ScoreDeltas),
		"duration_ms", time.Since(start).Milliseconds())

	return &enhancement, nil
}
