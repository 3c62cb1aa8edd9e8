// Package trip implements the trip-planning pipeline: parallel observation
// fetch, constraint filtering, spatial clustering, multi-criteria scoring and
// route optimization. Stages pass augmented structures strictly forward; no
// stage mutates a record it did not receive from its immediate predecessor.
package trip

import (
	"time"
)

// ResolutionMethod records how a requested species name was resolved.
type ResolutionMethod string

const (
	ResolutionExact    ResolutionMethod = "exact"
	ResolutionFuzzy    ResolutionMethod = "fuzzy"
	ResolutionAssisted ResolutionMethod = "assisted"
)

// SpeciesRef is a validated species reference. Immutable once resolved.
type SpeciesRef struct {
	InputName      string           `json:"input_name" yaml:"input_name"`
	Code           string           `json:"code" yaml:"code"`
	CommonName     string           `json:"common_name" yaml:"common_name"`
	ScientificName string           `json:"scientific_name" yaml:"scientific_name"`
	Method         ResolutionMethod `json:"method" yaml:"method"`
	Confidence     float64          `json:"confidence" yaml:"confidence"` // in [0,1]
}

// ResolutionFailure names a requested species that could not be resolved.
// Requested names are never silently dropped.
type ResolutionFailure struct {
	InputName string `json:"input_name" yaml:"input_name"`
	Reason    string `json:"reason" yaml:"reason"`
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Observation is a single geotagged sighting produced by the fetch stage.
// Source fields are never mutated after creation; downstream stages attach
// Enrichment alongside instead.
type Observation struct {
	Species      SpeciesRef `json:"species" yaml:"species"`
	LocationID   string     `json:"location_id" yaml:"location_id"`
	LocationName string     `json:"location_name" yaml:"location_name"`
	Lat          float64    `json:"lat" yaml:"lat"`
	Lng          float64    `json:"lng" yaml:"lng"`
	ObservedAt   time.Time  `json:"observed_at" yaml:"observed_at"`
	Count        int        `json:"count" yaml:"count"`
	Notable      bool       `json:"notable" yaml:"notable"`
	FetchCallID  string     `json:"fetch_call_id" yaml:"fetch_call_id"` // provenance: which fetch call produced it
}

// Enrichment holds the annotations the filter and cluster stages attach to an
// observation. ClusterID is -1 until the cluster stage assigns one.
type Enrichment struct {
	DistanceKm      float64 `json:"distance_km" yaml:"distance_km"` // from trip origin
	WithinRadius    bool    `json:"within_radius" yaml:"within_radius"`
	WithinDateRange bool    `json:"within_date_range" yaml:"within_date_range"`
	ClusterID       int     `json:"cluster_id" yaml:"cluster_id"`
}

// AnnotatedObservation pairs an observation with its enrichment. The filter
// stage produces exactly one per input observation, in input order.
type AnnotatedObservation struct {
	Observation `yaml:",inline"`
	Enrichment  Enrichment `json:"enrichment" yaml:"enrichment"`
}

// Constraint bounds a trip geographically and/or temporally. Constraints
// annotate observations, they never discard them.
type Constraint struct {
	Origin   Point     `json:"origin" yaml:"origin"`
	RadiusKm float64   `json:"radius_km" yaml:"radius_km"` // 0 means unbounded
	DateFrom time.Time `json:"date_from" yaml:"date_from"` // zero means unbounded
	DateTo   time.Time `json:"date_to" yaml:"date_to"`     // zero means unbounded
}

// DiscoveryMethod tags how a cluster was identified.
type DiscoveryMethod string

const (
	DiscoveryDerived      DiscoveryMethod = "derived"       // built from raw observations
	DiscoveryKnownHotspot DiscoveryMethod = "known-hotspot" // matched to a hotspot record
)

// HotspotCluster groups observation locations by spatial proximity.
// Immutable once scored.
type HotspotCluster struct {
	ID               int             `json:"id" yaml:"id"`
	Name             string          `json:"name" yaml:"name"` // canonical hotspot name when matched
	LocationIDs      []string        `json:"location_ids" yaml:"location_ids"`
	Centroid         Point           `json:"centroid" yaml:"centroid"`
	SpeciesCodes     []string        `json:"species_codes" yaml:"species_codes"` // sorted, unique
	ObservationCount int             `json:"observation_count" yaml:"observation_count"`
	LastObserved     time.Time       `json:"last_observed" yaml:"last_observed"`
	Discovery        DiscoveryMethod `json:"discovery" yaml:"discovery"`
	HotspotID        string          `json:"hotspot_id,omitempty" yaml:"hotspot_id,omitempty"` // set when matched
	AllTimeSpecies   int             `json:"all_time_species,omitempty" yaml:"all_time_species,omitempty"`
}

// SubScores are the components of a location's score.
type SubScores struct {
	Coverage   float64 `json:"coverage" yaml:"coverage"`     // fraction of target species observed
	Recency    float64 `json:"recency" yaml:"recency"`       // decay of days since last observation
	Distance   float64 `json:"distance" yaml:"distance"`     // monotone decreasing with origin distance
	Adjustment float64 `json:"adjustment" yaml:"adjustment"` // bounded enhancer delta
}

// ScoredLocation is a cluster plus its composite score and rank.
type ScoredLocation struct {
	Cluster   HotspotCluster `json:"cluster" yaml:"cluster"`
	Score     float64        `json:"score" yaml:"score"`
	SubScores SubScores      `json:"sub_scores" yaml:"sub_scores"`
	Rank      int            `json:"rank" yaml:"rank"` // 1-based
}

// Route is the ordered stop sequence produced by the optimizer.
type Route struct {
	Stops           []ScoredLocation `json:"stops" yaml:"stops"`
	TotalDistanceKm float64          `json:"total_distance_km" yaml:"total_distance_km"` // origin through last stop
	EstimatedTime   time.Duration    `json:"estimated_time" yaml:"estimated_time"`
}

// SpeciesFailure records one species whose fetch failed.
type SpeciesFailure struct {
	Species SpeciesRef `json:"species" yaml:"species"`
	Reason  string     `json:"reason" yaml:"reason"`
}

// FetchStats summarizes one fetch batch.
type FetchStats struct {
	Strategy      FetchStrategy    `json:"strategy" yaml:"strategy"`
	Attempted     int              `json:"attempted" yaml:"attempted"`
	Succeeded     int              `json:"succeeded" yaml:"succeeded"`
	Failed        int              `json:"failed" yaml:"failed"`
	FailedSpecies []SpeciesFailure `json:"failed_species,omitempty" yaml:"failed_species,omitempty"`
	Observations  int              `json:"observations" yaml:"observations"`
	Elapsed       time.Duration    `json:"elapsed" yaml:"elapsed"`
}

// Pipeline stage names, in execution order.
const (
	StageFetch   = "fetch"
	StageFilter  = "filter"
	StageCluster = "cluster"
	StageScore   = "score"
	StageRoute   = "route"
)

// StageOrder lists the pipeline stages in their fixed execution order.
var StageOrder = []string{StageFetch, StageFilter, StageCluster, StageScore, StageRoute}

// StageResult is one stage's completion status.
type StageResult struct {
	Stage   string        `json:"stage" yaml:"stage"`
	Status  string        `json:"status" yaml:"status"` // success, partial, failed
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
	Detail  string        `json:"detail,omitempty" yaml:"detail,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)
