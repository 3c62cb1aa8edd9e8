package trip

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/birdtrip/birdtrip-go/internal/cache"
	"github.com/birdtrip/birdtrip-go/internal/ebird"
	"github.com/birdtrip/birdtrip-go/internal/resilience"
)

// Clusterer is the spatial clustering stage. The hotspot source is optional;
// without it every cluster is reported as derived.
type Clusterer struct {
	exec   *resilience.Executor
	source ObservationSource
}

// NewClusterer creates a cluster stage. exec and source may be nil to skip
// known-hotspot matching.
func NewClusterer(exec *resilience.Executor, source ObservationSource) *Clusterer {
	return &Clusterer{exec: exec, source: source}
}

// Cluster groups in-range observations into hotspot clusters and attempts to
// match each cluster to a known hotspot. A hotspot lookup failure degrades to
// derived-only clusters, never an error.
func (c *Clusterer) Cluster(ctx context.Context, observations []AnnotatedObservation, radiusKm float64) []HotspotCluster {
	clusters := DeriveClusters(observations, radiusKm)
	if c.exec != nil && c.source != nil {
		c.matchKnownHotspots(ctx, clusters, radiusKm)
	}
	return clusters
}

// location aggregates the observations recorded at one stable location ID.
type location struct {
	id           string
	point        Point
	species      map[string]struct{}
	observations int
	lastObserved time.Time
}

// DeriveClusters merges observation locations lying within radiusKm of each
// other using single-link union-find over pairwise distances. Only
// observations satisfying both constraint flags participate; the rest keep
// cluster ID -1. Deterministic: locations are processed in location-ID order
// and cluster IDs are assigned by smallest member ID. Cluster IDs are also
// written back onto the participating observations' enrichment.
func DeriveClusters(observations []AnnotatedObservation, radiusKm float64) []HotspotCluster {
	byID := make(map[string]*location)
	for i := range observations {
		o := &observations[i]
		if !o.Enrichment.WithinRadius || !o.Enrichment.WithinDateRange {
			continue
		}

		loc, ok := byID[o.LocationID]
		if !ok {
			loc = &location{
				id:      o.LocationID,
				point:   Point{Lat: o.Lat, Lng: o.Lng},
				species: make(map[string]struct{}),
			}
			byID[o.LocationID] = loc
		}
		loc.species[o.Species.Code] = struct{}{}
		loc.observations++
		if o.ObservedAt.After(loc.lastObserved) {
			loc.lastObserved = o.ObservedAt
		}
	}

	if len(byID) == 0 {
		return nil
	}

	locations := make([]*location, 0, len(byID))
	for _, loc := range byID {
		locations = append(locations, loc)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].id < locations[j].id })

	// Single-link greedy merge: any pair within the radius joins
	uf := newUnionFind(len(locations))
	for i := 0; i < len(locations); i++ {
		for j := i + 1; j < len(locations); j++ {
			if HaversineKm(locations[i].point, locations[j].point) <= radiusKm {
				uf.union(i, j)
			}
		}
	}

	// Assign cluster IDs in first-seen root order; locations are sorted, so
	// IDs follow the smallest member location ID
	rootToCluster := make(map[int]int)
	members := make(map[int][]*location)
	for i, loc := range locations {
		root := uf.find(i)
		if _, ok := rootToCluster[root]; !ok {
			rootToCluster[root] = len(rootToCluster)
		}
		members[rootToCluster[root]] = append(members[rootToCluster[root]], loc)
	}

	clusters := make([]HotspotCluster, len(rootToCluster))
	clusterByLocation := make(map[string]int)
	for id := range clusters {
		clusters[id] = buildCluster(id, members[id])
		for _, locID := range clusters[id].LocationIDs {
			clusterByLocation[locID] = id
		}
	}

	for i := range observations {
		o := &observations[i]
		if id, ok := clusterByLocation[o.LocationID]; ok && o.Enrichment.WithinRadius && o.Enrichment.WithinDateRange {
			o.Enrichment.ClusterID = id
		}
	}

	return clusters
}

func buildCluster(id int, members []*location) HotspotCluster {
	cluster := HotspotCluster{
		ID:        id,
		Discovery: DiscoveryDerived,
	}

	points := make([]Point, 0, len(members))
	species := make(map[string]struct{})
	for _, loc := range members {
		cluster.LocationIDs = append(cluster.LocationIDs, loc.id)
		cluster.ObservationCount += loc.observations
		points = append(points, loc.point)
		for code := range loc.species {
			species[code] = struct{}{}
		}
		if loc.lastObserved.After(cluster.LastObserved) {
			cluster.LastObserved = loc.lastObserved
		}
	}

	cluster.Centroid = Centroid(points)
	cluster.SpeciesCodes = make([]string, 0, len(species))
	for code := range species {
		cluster.SpeciesCodes = append(cluster.SpeciesCodes, code)
	}
	sort.Strings(cluster.SpeciesCodes)

	return cluster
}

// matchKnownHotspots performs dual discovery: each derived cluster is matched
// against known hotspot records near its centroid. A match by member location
// ID wins outright; otherwise the nearest hotspot within radiusKm is taken.
// Matched clusters inherit the canonical name and historical metadata.
func (c *Clusterer) matchKnownHotspots(ctx context.Context, clusters []HotspotCluster, radiusKm float64) {
	for i := range clusters {
		cluster := &clusters[i]

		searchKm := radiusKm
		if searchKm < 1 {
			searchKm = 1
		}

		res, err := c.exec.Execute(ctx, resilience.Request{
			Endpoint: "hotspots",
			CacheKey: fmt.Sprintf("hotspots:%.3f:%.3f:%.1f", cluster.Centroid.Lat, cluster.Centroid.Lng, searchKm),
			Class:    cache.ClassHotspot,
			Fetch: func(ctx context.Context) (any, error) {
				return c.source.NearbyHotspots(ctx, cluster.Centroid.Lat, cluster.Centroid.Lng, searchKm)
			},
		})
		if err != nil {
			logger.Warn("hotspot lookup failed, reporting cluster as derived",
				"cluster_id", cluster.ID, "error", err)
			continue
		}

		hotspots, ok := res.Value.([]ebird.Hotspot)
		if !ok {
			continue
		}
		if match := bestHotspotMatch(cluster, hotspots, radiusKm); match != nil {
			cluster.Discovery = DiscoveryKnownHotspot
			cluster.Name = match.LocationName
			cluster.HotspotID = match.LocationID
			cluster.AllTimeSpecies = match.NumSpeciesAllTime
		}
	}
}

func bestHotspotMatch(cluster *HotspotCluster, hotspots []ebird.Hotspot, radiusKm float64) *ebird.Hotspot {
	memberIDs := make(map[string]struct{}, len(cluster.LocationIDs))
	for _, id := range cluster.LocationIDs {
		memberIDs[id] = struct{}{}
	}

	var (
		nearest     *ebird.Hotspot
		nearestDist float64
	)
	for i := range hotspots {
		h := &hotspots[i]
		if _, ok := memberIDs[h.LocationID]; ok {
			return h
		}
		dist := HaversineKm(cluster.Centroid, Point{Lat: h.Latitude, Lng: h.Longitude})
		if dist <= radiusKm && (nearest == nil || dist < nearestDist) {
			nearest = h
			nearestDist = dist
		}
	}
	return nearest
}

// unionFind is a plain disjoint-set with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri == rj {
		return
	}
	// Smaller root wins so cluster numbering follows location order
	if rj < ri {
		ri, rj = rj, ri
	}
	u.parent[rj] = ri
}
