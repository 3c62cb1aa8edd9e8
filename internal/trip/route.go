package trip

import (
	"time"
)

// Travel assumptions for the time estimate. Stops are birding visits, not
// drive-throughs.
const (
	travelSpeedKmh   = 50.0
	stopDwellMinutes = 60
)

// OptimizeRoute selects the top stops by rank and orders them with a bounded
// 2-opt pass over the distance matrix. The returned order is never longer
// than the naive rank order; distance ties keep score order. The optimizer
// never fails: fewer than three stops pass through unchanged.
func OptimizeRoute(scored []ScoredLocation, origin Point, maxStops, maxIterations int) Route {
	stops := topStops(scored, maxStops)
	if len(stops) == 0 {
		return Route{}
	}

	if len(stops) >= 3 {
		if maxIterations < 1 {
			maxIterations = 100
		}
		stops = twoOpt(stops, origin, maxIterations)
	}

	distance := routeDistance(stops, origin)
	return Route{
		Stops:           stops,
		TotalDistanceKm: distance,
		EstimatedTime:   estimateTime(distance, len(stops)),
	}
}

// topStops takes up to maxStops locations in rank order.
func topStops(scored []ScoredLocation, maxStops int) []ScoredLocation {
	if maxStops <= 0 || maxStops > len(scored) {
		maxStops = len(scored)
	}
	stops := make([]ScoredLocation, maxStops)
	copy(stops, scored[:maxStops])
	return stops
}

// twoOpt improves the visiting order by repeatedly reversing contiguous
// sub-paths that shorten the total distance, starting from a
// nearest-neighbor seed. Only strictly improving swaps are taken, so distance
// ties preserve the incoming order. The incoming order acts as a floor: the
// result is never worse than it.
func twoOpt(stops []ScoredLocation, origin Point, maxIterations int) []ScoredLocation {
	original := make([]ScoredLocation, len(stops))
	copy(original, stops)

	route := nearestNeighborSeed(stops, origin)

	improved := true
	for iter := 0; improved && iter < maxIterations; iter++ {
		improved = false
		for i := 0; i < len(route)-1; i++ {
			for j := i + 1; j < len(route); j++ {
				if delta := swapDelta(route, origin, i, j); delta < -1e-9 {
					reverse(route, i, j)
					improved = true
				}
			}
		}
	}

	if routeDistance(route, origin) > routeDistance(original, origin) {
		return original
	}
	return route
}

// nearestNeighborSeed builds a greedy starting order from the origin.
func nearestNeighborSeed(stops []ScoredLocation, origin Point) []ScoredLocation {
	route := make([]ScoredLocation, 0, len(stops))
	remaining := make([]ScoredLocation, len(stops))
	copy(remaining, stops)

	current := origin
	for len(remaining) > 0 {
		best := 0
		bestDist := HaversineKm(current, remaining[0].Cluster.Centroid)
		for i := 1; i < len(remaining); i++ {
			if d := HaversineKm(current, remaining[i].Cluster.Centroid); d < bestDist {
				best, bestDist = i, d
			}
		}
		route = append(route, remaining[best])
		current = remaining[best].Cluster.Centroid
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return route
}

// swapDelta is the distance change from reversing route[i..j]. Only the two
// edges at the reversal boundary change; the route is open-ended, so a
// reversal touching the last stop changes one edge.
func swapDelta(route []ScoredLocation, origin Point, i, j int) float64 {
	before := stopPoint(route, origin, i-1)
	first := route[i].Cluster.Centroid
	last := route[j].Cluster.Centroid

	removed := HaversineKm(before, first)
	added := HaversineKm(before, last)

	if j < len(route)-1 {
		after := route[j+1].Cluster.Centroid
		removed += HaversineKm(last, after)
		added += HaversineKm(first, after)
	}

	return added - removed
}

func stopPoint(route []ScoredLocation, origin Point, i int) Point {
	if i < 0 {
		return origin
	}
	return route[i].Cluster.Centroid
}

func reverse(route []ScoredLocation, i, j int) {
	for i < j {
		route[i], route[j] = route[j], route[i]
		i++
		j--
	}
}

// routeDistance is the open-path distance from the origin through every stop.
func routeDistance(stops []ScoredLocation, origin Point) float64 {
	total := 0.0
	current := origin
	for i := range stops {
		total += HaversineKm(current, stops[i].Cluster.Centroid)
		current = stops[i].Cluster.Centroid
	}
	return total
}

func estimateTime(distanceKm float64, stops int) time.Duration {
	travel := time.Duration(distanceKm / travelSpeedKmh * float64(time.Hour))
	dwell := time.Duration(stops) * stopDwellMinutes * time.Minute
	return travel + dwell
}
