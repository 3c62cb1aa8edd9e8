package enhance

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

func testRequest() Request {
	return Request{
		Region:        "US-NY",
		TargetSpecies: []string{"norcar", "blujay"},
		Candidates: []Candidate{
			{ID: 0, Name: "Riverside Park", Rank: 1, Score: 0.92, SpeciesCodes: []string{"norcar", "blujay"}, DistanceKm: 3.2},
			{ID: 1, Rank: 2, Score: 0.67, SpeciesCodes: []string{"norcar"}, DistanceKm: 8.9},
		},
	}
}

func newTestHTTPEnhancer(t *testing.T) *HTTPEnhancer {
	t.Helper()

	e, err := NewHTTPEnhancer(HTTPConfig{
		Endpoint:          "https://enhancer.example/v1/rank",
		APIKey:            "test-key",
		Timeout:           5 * time.Second,
		RequestsPerMinute: 600,
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(e.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return e
}

func TestNewHTTPEnhancer_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTPEnhancer(HTTPConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestHTTPEnhancer_Success(t *testing.T) {
	e := newTestHTTPEnhancer(t)

	httpmock.RegisterResponder(http.MethodPost, "https://enhancer.example/v1/rank",
		httpmock.NewStringResponder(http.StatusOK,
			`{"summary":"Start at Riverside Park.","score_deltas":{"0":0.05,"1":-0.02}}`))

	enhancement, err := e.Enhance(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "llm", enhancement.Source)
	assert.Equal(t, "Start at Riverside Park.", enhancement.Summary)
	assert.InDelta(t, 0.05, enhancement.ScoreDeltas[0], 1e-9)
	assert.InDelta(t, -0.02, enhancement.ScoreDeltas[1], 1e-9)
}

func TestHTTPEnhancer_ServiceErrorIsEnhancementCategory(t *testing.T) {
	e := newTestHTTPEnhancer(t)

	httpmock.RegisterResponder(http.MethodPost, "https://enhancer.example/v1/rank",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `overloaded`))

	_, err := e.Enhance(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEnhancement))
}

func TestHTTPEnhancer_MalformedResponse(t *testing.T) {
	e := newTestHTTPEnhancer(t)

	httpmock.RegisterResponder(http.MethodPost, "https://enhancer.example/v1/rank",
		httpmock.NewStringResponder(http.StatusOK, `not json`))

	_, err := e.Enhance(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEnhancement))
}

func TestTemplateFallback_DeterministicShape(t *testing.T) {
	t.Parallel()

	f := NewTemplateFallback()

	first, err := f.Enhance(context.Background(), testRequest())
	require.NoError(t, err)
	second, err := f.Enhance(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, first, second, "fallback output is deterministic")
	assert.Equal(t, "template", first.Source)
	assert.Contains(t, first.Summary, "Riverside Park")
	assert.Contains(t, first.Summary, "US-NY")
	assert.Len(t, first.Notes, 2)
	assert.Contains(t, first.Notes[1], "unnamed cluster 1")
	assert.Empty(t, first.ScoreDeltas, "the fallback never reorders")
}

func TestTemplateFallback_NotesCountTargetSpeciesOnly(t *testing.T) {
	t.Parallel()

	f := NewTemplateFallback()

	// The cluster hosts five species but only one of the requested targets
	enhancement, err := f.Enhance(context.Background(), Request{
		Region:        "US-NY",
		TargetSpecies: []string{"norcar", "blujay"},
		Candidates: []Candidate{
			{
				ID:           3,
				Name:         "Montezuma NWR",
				Rank:         1,
				Score:        0.81,
				SpeciesCodes: []string{"norcar", "carwre", "tuftit", "dowwoo", "whbnut"},
				DistanceKm:   12.4,
			},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, enhancement.Notes[3], "1 of 2 target species")
	assert.NotContains(t, enhancement.Notes[3], "5", "bycatch species must not inflate the note")
}

func TestTemplateFallback_EmptyCandidates(t *testing.T) {
	t.Parallel()

	f := NewTemplateFallback()
	enhancement, err := f.Enhance(context.Background(), Request{Region: "US-NY", TargetSpecies: []string{"norcar"}})
	require.NoError(t, err)
	assert.NotEmpty(t, enhancement.Summary)
	assert.Empty(t, enhancement.Notes)
}
