// Package ebird provides a rate-limited client for the eBird API v2
package ebird

import "time"

// Observation represents a single observation record from the eBird API.
// Optional fields may be absent in responses; unknown fields are ignored.
type Observation struct {
	SpeciesCode     string  `json:"speciesCode"`
	CommonName      string  `json:"comName"`
	ScientificName  string  `json:"sciName"`
	LocationID      string  `json:"locId"`
	LocationName    string  `json:"locName"`
	ObservationDate string  `json:"obsDt"` // "2006-01-02 15:04" or "2006-01-02"
	HowMany         int     `json:"howMany,omitempty"`
	Latitude        float64 `json:"lat"`
	Longitude       float64 `json:"lng"`
	Valid           bool    `json:"obsValid"`
	Reviewed        bool    `json:"obsReviewed"`
	LocationPrivate bool    `json:"locationPrivate"`
}

// ObsTime parses the observation date, which the API reports with or without
// a time component.
func (o *Observation) ObsTime() (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04", o.ObservationDate); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", o.ObservationDate)
}

// Hotspot represents a known birding hotspot from the eBird API.
type Hotspot struct {
	LocationID        string  `json:"locId"`
	LocationName      string  `json:"locName"`
	CountryCode       string  `json:"countryCode"`
	SubnationalCode   string  `json:"subnational1Code"`
	Latitude          float64 `json:"lat"`
	Longitude         float64 `json:"lng"`
	LatestObsDate     string  `json:"latestObsDt,omitempty"`
	NumSpeciesAllTime int     `json:"numSpeciesAllTime,omitempty"`
}

// TaxonomyEntry represents a single entry from the eBird taxonomy
type TaxonomyEntry struct {
	ScientificName string   `json:"sciName"`
	CommonName     string   `json:"comName"`
	SpeciesCode    string   `json:"speciesCode"`
	Category       string   `json:"category"` // species, spuh, slash, hybrid, etc.
	TaxonOrder     float64  `json:"taxonOrder"`
	BandingCodes   []string `json:"bandingCodes"`
	ComNameCodes   []string `json:"comNameCodes"`
	Order          string   `json:"order"`
	FamilyComName  string   `json:"familyComName"`
	FamilySciName  string   `json:"familySciName"`
}

// Config holds configuration for the eBird client
type Config struct {
	APIKey         string        `json:"api_key"`
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxConcurrent  int64         `json:"max_concurrent"`   // worker permit pool size
	MaxPerWindow   int           `json:"max_per_window"`   // calls per rolling window
	Window         time.Duration `json:"window"`           // rolling window length
	NonBlocking    bool          `json:"non_blocking"`     // fail fast instead of waiting for a slot
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.ebird.org/v2",
		RequestTimeout: 30 * time.Second,
		MaxConcurrent:  5,
		MaxPerWindow:   750,
		Window:         time.Hour,
	}
}

// Error represents an eBird API error response
type Error struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (e *Error) Error() string {
	return e.Detail
}
