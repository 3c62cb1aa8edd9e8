package ebird

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/birdtrip/birdtrip-go/internal/errors"
)

func newTestClient(t *testing.T, mutate ...func(*Config)) *Client {
	t.Helper()

	config := DefaultConfig()
	config.APIKey = "test-key"
	config.RequestTimeout = 5 * time.Second
	for _, m := range mutate {
		m(&config)
	}

	client, err := NewClient(config, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return client
}

func observationsJSON() string {
	return `[
		{"speciesCode":"norcar","comName":"Northern Cardinal","sciName":"Cardinalis cardinalis",
		 "locId":"L109145","locName":"Central Park","obsDt":"2026-08-20 08:15","howMany":3,
		 "lat":40.7829,"lng":-73.9654,"obsValid":true,"obsReviewed":false,"locationPrivate":false},
		{"speciesCode":"blujay","comName":"Blue Jay","sciName":"Cyanocitta cristata",
		 "locId":"L109145","locName":"Central Park","obsDt":"2026-08-21",
		 "lat":40.7829,"lng":-73.9654,"obsValid":true,"obsReviewed":false,"locationPrivate":false}
	]`
}

func jsonResponder(status int, body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(status, body)
	resp.Header.Set("Content-Type", "application/json")
	return httpmock.ResponderFromResponse(resp)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRecentObservations_SpeciesScoped(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/data/obs/US-NY/recent/norcar?back=14",
		jsonResponder(http.StatusOK, observationsJSON()))

	obs, err := client.RecentObservations(context.Background(), "US-NY", "norcar", 14)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "norcar", obs[0].SpeciesCode)
	assert.Equal(t, "Central Park", obs[0].LocationName)
	assert.Equal(t, 3, obs[0].HowMany)
	assert.InDelta(t, 40.7829, obs[0].Latitude, 0.0001)

	// Optional howMany absent on the second record
	assert.Equal(t, 0, obs[1].HowMany)
}

func TestRecentObservations_RegionScoped(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/data/obs/US-NY/recent?back=7",
		jsonResponder(http.StatusOK, observationsJSON()))

	obs, err := client.RecentObservations(context.Background(), "US-NY", "", 7)
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}

func TestRecentObservations_EmptyRegion(t *testing.T) {
	client := newTestClient(t)

	_, err := client.RecentObservations(context.Background(), "", "norcar", 14)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Zero(t, httpmock.GetTotalCallCount(), "validation errors must not reach the network")
}

func TestRecentObservations_BackDaysClamped(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/data/obs/US-NY/recent?back=30",
		jsonResponder(http.StatusOK, `[]`))

	_, err := client.RecentObservations(context.Background(), "US-NY", "", 90)
	require.NoError(t, err)
}

func TestNearbyHotspots(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/ref/hotspot/geo?lat=40.7829&lng=-73.9654&dist=25.0&fmt=json",
		jsonResponder(http.StatusOK, `[
			{"locId":"L109145","locName":"Central Park","countryCode":"US",
			 "lat":40.7829,"lng":-73.9654,"numSpeciesAllTime":230}
		]`))

	hotspots, err := client.NearbyHotspots(context.Background(), 40.7829, -73.9654, 25)
	require.NoError(t, err)
	require.Len(t, hotspots, 1)
	assert.Equal(t, "L109145", hotspots[0].LocationID)
	assert.Equal(t, 230, hotspots[0].NumSpeciesAllTime)
}

func TestRegionSpeciesList(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/product/spplist/US-NY",
		jsonResponder(http.StatusOK, `["norcar","blujay","amecro"]`))

	codes, err := client.RegionSpeciesList(context.Background(), "US-NY")
	require.NoError(t, err)
	assert.Equal(t, []string{"norcar", "blujay", "amecro"}, codes)
}

func TestSpeciesTaxonomy_NotFound(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/ref/taxonomy/ebird/nosuch1?fmt=json",
		jsonResponder(http.StatusOK, `[]`))

	_, err := client.SpeciesTaxonomy(context.Background(), "nosuch1")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestDoRequest_ErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category errors.ErrorCategory
	}{
		{"rate_limited", http.StatusTooManyRequests, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, errors.CategoryRateLimit},
		{"unauthorized", http.StatusUnauthorized, `{"title":"Unauthorized","status":401,"detail":"bad key"}`, errors.CategoryConfiguration},
		{"not_found", http.StatusNotFound, `{"title":"Not Found","status":404,"detail":"no such region"}`, errors.CategoryNotFound},
		{"bad_request", http.StatusBadRequest, `{"title":"Bad Request","status":400,"detail":"bad back value"}`, errors.CategoryValidation},
		{"server_error", http.StatusInternalServerError, `{"title":"Internal","status":500,"detail":"boom"}`, errors.CategoryNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)
			httpmock.RegisterResponder(http.MethodGet,
				"https://api.ebird.org/v2/data/obs/US-NY/recent?back=14",
				jsonResponder(tt.status, tt.body))

			_, err := client.RecentObservations(context.Background(), "US-NY", "", 14)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category),
				"expected category %s, got %v", tt.category, err)
		})
	}
}

func TestDoRequest_TimeoutDistinctFromTransport(t *testing.T) {
	client := newTestClient(t, func(c *Config) {
		c.RequestTimeout = 50 * time.Millisecond
	})

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/data/obs/US-NY/recent?back=14",
		jsonResponder(http.StatusOK, `[]`).Delay(300*time.Millisecond))

	_, err := client.RecentObservations(context.Background(), "US-NY", "", 14)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout),
		"per-call deadline must surface as a timeout, got %v", err)
}

func TestDoRequest_NonBlockingFailsFastAtCapacity(t *testing.T) {
	client := newTestClient(t, func(c *Config) {
		c.NonBlocking = true
		c.MaxPerWindow = 1
		c.Window = time.Hour
	})

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/data/obs/US-NY/recent?back=14",
		jsonResponder(http.StatusOK, `[]`))

	_, err := client.RecentObservations(context.Background(), "US-NY", "", 14)
	require.NoError(t, err)

	_, err = client.RecentObservations(context.Background(), "US-NY", "", 14)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRateLimit))
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "second call must fail before the network")
}

func TestDoRequest_NonJSONResponse(t *testing.T) {
	client := newTestClient(t)

	resp := httpmock.NewStringResponse(http.StatusOK, "speciesCode,comName\nnorcar,Northern Cardinal")
	resp.Header.Set("Content-Type", "text/csv")
	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/data/obs/US-NY/recent?back=14",
		httpmock.ResponderFromResponse(resp))

	_, err := client.RecentObservations(context.Background(), "US-NY", "", 14)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestObservationObsTime(t *testing.T) {
	t.Parallel()

	withTime := Observation{ObservationDate: "2026-08-20 08:15"}
	ts, err := withTime.ObsTime()
	require.NoError(t, err)
	assert.Equal(t, 8, ts.Hour())

	dateOnly := Observation{ObservationDate: "2026-08-21"}
	ts, err = dateOnly.ObsTime()
	require.NoError(t, err)
	assert.Equal(t, time.August, ts.Month())

	malformed := Observation{ObservationDate: "yesterday"}
	_, err = malformed.ObsTime()
	assert.Error(t, err)
}

func TestGetMetrics(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://api.ebird.org/v2/data/obs/US-NY/recent?back=14",
		jsonResponder(http.StatusOK, observationsJSON()))

	_, err := client.RecentObservations(context.Background(), "US-NY", "", 14)
	require.NoError(t, err)

	m := client.GetMetrics()
	assert.Equal(t, int64(1), m.APICalls)
	assert.Equal(t, int64(0), m.APIErrors)
}
