package trip

import (
	"math"
	"sort"
	"time"

	"github.com/birdtrip/birdtrip-go/internal/conf"
)

// distanceScaleKm controls how fast the distance sub-score falls off; at this
// distance from the origin the sub-score is halved.
const distanceScaleKm = 10.0

// ScoreClusters computes the composite ordering score for every cluster: a
// weighted sum of target-species coverage, activity recency and a distance
// penalty. Output is rank-ordered best first; score ties keep cluster-ID
// order. Scores are always non-negative.
func ScoreClusters(clusters []HotspotCluster, targets []SpeciesRef, origin Point, now time.Time, settings conf.TripSettings) []ScoredLocation {
	if len(clusters) == 0 {
		return nil
	}

	targetCodes := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		targetCodes[t.Code] = struct{}{}
	}

	wc, wr, wd := settings.Weights.Coverage, settings.Weights.Recency, settings.Weights.Distance
	sum := wc + wr + wd
	if sum <= 0 {
		wc, wr, wd, sum = 1, 1, 1, 3
	}
	wc, wr, wd = wc/sum, wr/sum, wd/sum

	halfLife := settings.RecencyHalfLifeDays
	if halfLife <= 0 {
		halfLife = 7
	}

	scored := make([]ScoredLocation, len(clusters))
	for i, cluster := range clusters {
		sub := SubScores{
			Coverage: coverageScore(cluster.SpeciesCodes, targetCodes),
			Recency:  recencyScore(cluster.LastObserved, now, halfLife),
			Distance: distanceScore(HaversineKm(origin, cluster.Centroid)),
		}
		scored[i] = ScoredLocation{
			Cluster:   cluster,
			Score:     wc*sub.Coverage + wr*sub.Recency + wd*sub.Distance,
			SubScores: sub,
		}
	}

	rankLocations(scored)
	return scored
}

// ApplyAdjustments applies enhancer score deltas keyed by cluster ID, each
// clamped to ±maxAdjustment, and re-ranks. Final scores stay non-negative.
// The numeric sub-scores are untouched so the original ordering remains
// reconstructible.
func ApplyAdjustments(scored []ScoredLocation, deltas map[int]float64, maxAdjustment float64) {
	if len(deltas) == 0 {
		return
	}

	for i := range scored {
		delta, ok := deltas[scored[i].Cluster.ID]
		if !ok {
			continue
		}
		delta = math.Max(-maxAdjustment, math.Min(maxAdjustment, delta))
		scored[i].SubScores.Adjustment = delta
		scored[i].Score = math.Max(0, scored[i].Score+delta)
	}

	rankLocations(scored)
}

// rankLocations orders best-first and assigns 1-based ranks. Stable sort over
// cluster-ID order keeps ties deterministic.
func rankLocations(scored []ScoredLocation) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Cluster.ID < scored[j].Cluster.ID
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}
}

func coverageScore(clusterSpecies []string, targets map[string]struct{}) float64 {
	if len(targets) == 0 {
		return 0
	}
	covered := 0
	for _, code := range clusterSpecies {
		if _, ok := targets[code]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(targets))
}

// recencyScore decays exponentially with days since the last observation,
// halving every halfLifeDays. An unknown last-observation time scores zero.
func recencyScore(lastObserved, now time.Time, halfLifeDays float64) float64 {
	if lastObserved.IsZero() {
		return 0
	}
	days := now.Sub(lastObserved).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-math.Ln2 * days / halfLifeDays)
}

// distanceScore decreases monotonically with distance from the trip origin.
func distanceScore(distanceKm float64) float64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	return 1 / (1 + distanceKm/distanceScaleKm)
}
