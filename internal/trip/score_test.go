package trip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCluster(id int, centroid Point, species []string, lastObserved time.Time) HotspotCluster {
	return HotspotCluster{
		ID:           id,
		Centroid:     centroid,
		SpeciesCodes: species,
		LastObserved: lastObserved,
		Discovery:    DiscoveryDerived,
	}
}

func targetRefs(codes ...string) []SpeciesRef {
	refs := make([]SpeciesRef, len(codes))
	for i, code := range codes {
		refs[i] = speciesRef(code)
	}
	return refs
}

func TestScoreClusters_CoverageDominates(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 42.0, Lng: -76.0}
	now := time.Now()
	clusters := []HotspotCluster{
		testCluster(0, origin, []string{"sp1"}, now),
		testCluster(1, origin, []string{"sp1", "sp2", "sp3"}, now),
	}

	scored := ScoreClusters(clusters, targetRefs("sp1", "sp2", "sp3"), origin, now, testTripSettings())
	require.Len(t, scored, 2)

	assert.Equal(t, 1, scored[0].Cluster.ID, "full coverage ranks first")
	assert.Equal(t, 1, scored[0].Rank)
	assert.InDelta(t, 1.0, scored[0].SubScores.Coverage, 1e-9)
	assert.InDelta(t, 1.0/3.0, scored[1].SubScores.Coverage, 1e-9)
}

func TestScoreClusters_RecencyDecays(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 42.0, Lng: -76.0}
	now := time.Now()
	clusters := []HotspotCluster{
		testCluster(0, origin, []string{"sp1"}, now),
		testCluster(1, origin, []string{"sp1"}, now.AddDate(0, 0, -7)),
		testCluster(2, origin, []string{"sp1"}, time.Time{}),
	}

	scored := ScoreClusters(clusters, targetRefs("sp1"), origin, now, testTripSettings())
	require.Len(t, scored, 3)

	byID := map[int]ScoredLocation{}
	for _, s := range scored {
		byID[s.Cluster.ID] = s
	}

	assert.InDelta(t, 1.0, byID[0].SubScores.Recency, 0.01)
	// One half-life elapsed
	assert.InDelta(t, 0.5, byID[1].SubScores.Recency, 0.01)
	assert.Zero(t, byID[2].SubScores.Recency, "unknown last observation scores zero")
}

func TestScoreClusters_DistancePenalty(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 42.0, Lng: -76.0}
	now := time.Now()
	near := testCluster(0, Point{Lat: 42.01, Lng: -76.0}, []string{"sp1"}, now)
	far := testCluster(1, Point{Lat: 42.3, Lng: -76.0}, []string{"sp1"}, now)

	scored := ScoreClusters([]HotspotCluster{near, far}, targetRefs("sp1"), origin, now, testTripSettings())
	require.Len(t, scored, 2)
	assert.Equal(t, 0, scored[0].Cluster.ID)
	assert.Greater(t, scored[0].SubScores.Distance, scored[1].SubScores.Distance)
}

func TestScoreClusters_NonNegativeAndRanked(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 42.0, Lng: -76.0}
	now := time.Now()
	var clusters []HotspotCluster
	for i := 0; i < 5; i++ {
		clusters = append(clusters, testCluster(i, Point{Lat: 42.0 + float64(i)*0.05, Lng: -76.0}, []string{"sp1"}, now.AddDate(0, 0, -i)))
	}

	scored := ScoreClusters(clusters, targetRefs("sp1", "sp2"), origin, now, testTripSettings())
	for i, s := range scored {
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.Equal(t, i+1, s.Rank)
		if i > 0 {
			assert.LessOrEqual(t, s.Score, scored[i-1].Score)
		}
	}
}

func TestScoreClusters_TiesKeepClusterIDOrder(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 42.0, Lng: -76.0}
	now := time.Now()
	clusters := []HotspotCluster{
		testCluster(1, origin, []string{"sp1"}, now),
		testCluster(0, origin, []string{"sp1"}, now),
	}

	scored := ScoreClusters(clusters, targetRefs("sp1"), origin, now, testTripSettings())
	assert.Equal(t, 0, scored[0].Cluster.ID)
	assert.Equal(t, 1, scored[1].Cluster.ID)
}

func TestApplyAdjustments_BoundedAndReRanked(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 42.0, Lng: -76.0}
	now := time.Now()
	clusters := []HotspotCluster{
		testCluster(0, origin, []string{"sp1", "sp2"}, now),
		testCluster(1, origin, []string{"sp1"}, now),
	}
	scored := ScoreClusters(clusters, targetRefs("sp1", "sp2"), origin, now, testTripSettings())
	require.Equal(t, 0, scored[0].Cluster.ID)

	// A delta far beyond the bound is clamped to +0.3, enough to flip ranks
	ApplyAdjustments(scored, map[int]float64{1: 10.0}, 0.3)

	assert.Equal(t, 1, scored[0].Cluster.ID)
	assert.InDelta(t, 0.3, scored[0].SubScores.Adjustment, 1e-9)
	assert.Equal(t, 1, scored[0].Rank)
	assert.Equal(t, 2, scored[1].Rank)
}

func TestApplyAdjustments_NeverNegative(t *testing.T) {
	t.Parallel()

	origin := Point{Lat: 42.0, Lng: -76.0}
	now := time.Now()
	scored := ScoreClusters([]HotspotCluster{testCluster(0, origin, []string{"sp1"}, now)},
		targetRefs("sp1"), origin, now, testTripSettings())

	ApplyAdjustments(scored, map[int]float64{0: -100}, 5.0)
	assert.GreaterOrEqual(t, scored[0].Score, 0.0)
}
