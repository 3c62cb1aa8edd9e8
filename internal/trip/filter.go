package trip

import (
	"github.com/birdtrip/birdtrip-go/internal/conf"
)

// FilterResult is the constraint filter's output: one annotated record per
// input record, in input order, plus whether the relaxed-constraint policy
// triggered.
type FilterResult struct {
	Observations []AnnotatedObservation
	InRange      int     // records satisfying both radius and date range
	Relaxed      bool    // radius was widened once
	RadiusKm     float64 // effective radius after any relaxation
}

// FilterObservations annotates every observation with its distance from the
// trip origin and whether it satisfies the radius and date constraints. No
// record is ever removed; downstream stages decide whether to honor the
// flags, and the full set stays available for diagnostics.
//
// When the strict in-range count falls below the configured minimum, the
// radius is widened once by the configured factor and the annotation pass
// repeats against the wider bound.
func FilterObservations(observations []Observation, constraint Constraint, settings conf.TripSettings) FilterResult {
	result := FilterResult{
		Observations: annotate(observations, constraint),
		RadiusKm:     constraint.RadiusKm,
	}
	result.InRange = countInRange(result.Observations)

	minResults := settings.RelaxedFilterMinResults
	factor := settings.RelaxedFilterFactor
	if factor <= 1 || constraint.RadiusKm <= 0 || result.InRange >= minResults {
		return result
	}

	relaxed := constraint
	relaxed.RadiusKm = constraint.RadiusKm * factor

	logger.Warn("strict filter yielded too few results, widening radius once",
		"in_range", result.InRange,
		"minimum", minResults,
		"radius_km", constraint.RadiusKm,
		"widened_radius_km", relaxed.RadiusKm)

	result.Observations = annotate(observations, relaxed)
	result.InRange = countInRange(result.Observations)
	result.Relaxed = true
	result.RadiusKm = relaxed.RadiusKm

	return result
}

// annotate computes enrichment fields for every observation without touching
// the source records. Output length and order equal the input's.
func annotate(observations []Observation, constraint Constraint) []AnnotatedObservation {
	annotated := make([]AnnotatedObservation, len(observations))
	for i, obs := range observations {
		distance := HaversineKm(constraint.Origin, Point{Lat: obs.Lat, Lng: obs.Lng})

		withinRadius := constraint.RadiusKm <= 0 || distance <= constraint.RadiusKm

		withinDates := true
		if !constraint.DateFrom.IsZero() && obs.ObservedAt.Before(constraint.DateFrom) {
			withinDates = false
		}
		if !constraint.DateTo.IsZero() && obs.ObservedAt.After(constraint.DateTo) {
			withinDates = false
		}

		annotated[i] = AnnotatedObservation{
			Observation: obs,
			Enrichment: Enrichment{
				DistanceKm:      distance,
				WithinRadius:    withinRadius,
				WithinDateRange: withinDates,
				ClusterID:       -1,
			},
		}
	}
	return annotated
}

func countInRange(observations []AnnotatedObservation) int {
	n := 0
	for i := range observations {
		if observations[i].Enrichment.WithinRadius && observations[i].Enrichment.WithinDateRange {
			n++
		}
	}
	return n
}
