// config.go: settings struct and functions to load and save planner settings.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EBirdRateLimitSettings bounds calls against the observation API per credential.
type EBirdRateLimitSettings struct {
	MaxPerWindow int           // maximum calls within the rolling window
	Window       time.Duration // rolling window length
}

// EBirdSettings contains settings for the eBird observation source.
type EBirdSettings struct {
	APIKey         string                 // eBird API key
	BaseURL        string                 // API base URL
	RequestTimeout time.Duration          // per-call timeout
	MaxConcurrent  int64                  // worker permit pool size
	Locale         string                 // locale for common names
	RateLimit      EBirdRateLimitSettings // rolling-window call budget
}

// RetrySettings configures retry-with-backoff for transient failures.
type RetrySettings struct {
	MaxRetries   int           // retry attempts after the initial call
	InitialDelay time.Duration // delay before first retry
	MaxDelay     time.Duration // cap on backoff delay
	Multiplier   float64       // backoff multiplier per attempt
}

// BreakerSettings configures the per-endpoint circuit breaker.
type BreakerSettings struct {
	MaxFailures       int           // consecutive failures before opening
	RecoveryTimeout   time.Duration // open duration before half-open probing
	HalfOpenMaxTrials int           // trial calls allowed while half-open
}

// CacheSettings holds per-class TTLs and degradation policy.
type CacheSettings struct {
	TaxonomyTTL     time.Duration // taxonomy data rarely changes
	ObservationTTL  time.Duration // recent observations go stale quickly
	HotspotTTL      time.Duration // known hotspot metadata
	FallbackToStale bool          // serve expired entries when the source fails
	MaxStaleEntries int           // bound on retained expired entries
}

// ScoreWeights are the multi-criteria scoring weights, normalized at use.
type ScoreWeights struct {
	Coverage float64 // target species coverage
	Recency  float64 // activity recency decay
	Distance float64 // distance-from-origin penalty
}

// TripSettings configures the enrichment pipeline and route optimizer.
type TripSettings struct {
	ClusterRadiusKm         float64      // spatial merge radius for hotspot clusters
	MaxStops                int          // route stop limit
	LookbackDays            int          // observation lookback window
	RelaxedFilterMinResults int          // widen constraints when fewer in-range results
	RelaxedFilterFactor     float64      // radius widening factor on relaxation
	RecencyHalfLifeDays     float64      // decay half-life for the recency sub-score
	TwoOptMaxIterations     int          // 2-opt improvement budget
	Weights                 ScoreWeights // scoring weights
}

// EnhancerSettings configures the optional language-model enhancer.
type EnhancerSettings struct {
	Enabled           bool          // false forces the deterministic fallback
	Endpoint          string        // enhancement service URL
	APIKey            string        // bearer token
	Timeout           time.Duration // bounded enhancement call timeout
	MaxAdjustment     float64       // bound on score delta a re-rank may apply
	RequestsPerMinute int           // request pacing for the enhancer endpoint
}

// LogSettings contains file logging configuration.
type LogSettings struct {
	Enabled bool   // true to enable file logging
	Path    string // directory for per-service log files
}

// MainSettings contains top-level application settings.
type MainSettings struct {
	Name  string      // instance name
	Debug bool        // verbose logging
	Log   LogSettings // log file settings
}

// Settings is the root configuration consumed by the planner core.
type Settings struct {
	Main     MainSettings
	EBird    EBirdSettings
	Retry    RetrySettings
	Breaker  BreakerSettings
	Cache    CacheSettings
	Trip     TripSettings
	Enhancer EnhancerSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, applies defaults and validates the result.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the loaded settings, loading them on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				panic(fmt.Sprintf("error loading settings: %v", err))
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, defaults are enough to run
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the list of directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "birdtrip-go"))
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "birdtrip-go"))
	}

	// Current working directory last so local overrides win during development
	paths = append(paths, ".")

	if len(paths) == 0 {
		return nil, fmt.Errorf("no usable config directories found")
	}

	return paths, nil
}

// SaveAs writes the current settings to the given path as YAML.
func (s *Settings) SaveAs(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("error marshaling settings: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// ValidateSettings checks settings values a misconfiguration would otherwise
// surface deep inside the pipeline.
func ValidateSettings(s *Settings) error {
	if s.EBird.RequestTimeout <= 0 {
		return fmt.Errorf("ebird.requesttimeout must be positive, got %v", s.EBird.RequestTimeout)
	}
	if s.EBird.MaxConcurrent < 1 {
		return fmt.Errorf("ebird.maxconcurrent must be at least 1, got %d", s.EBird.MaxConcurrent)
	}
	if s.EBird.RateLimit.MaxPerWindow < 1 {
		return fmt.Errorf("ebird.ratelimit.maxperwindow must be at least 1, got %d", s.EBird.RateLimit.MaxPerWindow)
	}
	if s.EBird.RateLimit.Window <= 0 {
		return fmt.Errorf("ebird.ratelimit.window must be positive, got %v", s.EBird.RateLimit.Window)
	}
	if s.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.maxretries must not be negative, got %d", s.Retry.MaxRetries)
	}
	if s.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %v", s.Retry.Multiplier)
	}
	if s.Breaker.MaxFailures < 1 {
		return fmt.Errorf("breaker.maxfailures must be at least 1, got %d", s.Breaker.MaxFailures)
	}
	if s.Breaker.HalfOpenMaxTrials < 1 {
		return fmt.Errorf("breaker.halfopenmaxtrials must be at least 1, got %d", s.Breaker.HalfOpenMaxTrials)
	}
	if s.Trip.ClusterRadiusKm <= 0 {
		return fmt.Errorf("trip.clusterradiuskm must be positive, got %v", s.Trip.ClusterRadiusKm)
	}
	if s.Trip.MaxStops < 1 {
		return fmt.Errorf("trip.maxstops must be at least 1, got %d", s.Trip.MaxStops)
	}
	if s.Trip.LookbackDays < 1 || s.Trip.LookbackDays > 30 {
		return fmt.Errorf("trip.lookbackdays must be between 1 and 30, got %d", s.Trip.LookbackDays)
	}
	if s.Trip.RelaxedFilterFactor < 1 {
		return fmt.Errorf("trip.relaxedfilterfactor must be at least 1, got %v", s.Trip.RelaxedFilterFactor)
	}
	w := s.Trip.Weights
	if w.Coverage < 0 || w.Recency < 0 || w.Distance < 0 {
		return fmt.Errorf("trip.weights must not be negative, got %+v", w)
	}
	if w.Coverage+w.Recency+w.Distance == 0 {
		return fmt.Errorf("trip.weights must not all be zero")
	}
	if s.Enhancer.Enabled && s.Enhancer.Endpoint == "" {
		return fmt.Errorf("enhancer.endpoint is required when enhancer is enabled")
	}
	return nil
}
