// Package cache provides TTL-class keyed memoization with dependency-based
// invalidation and stale-value retention for graceful degradation.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Class selects the TTL applied to an entry. Different data kinds age at
// very different rates: taxonomy is near-static, observations go stale in
// minutes.
type Class string

const (
	ClassTaxonomy    Class = "taxonomy"
	ClassObservation Class = "observation"
	ClassHotspot     Class = "hotspot"
	ClassDefault     Class = "default"
)

// Config holds per-class TTLs and the stale retention bound.
type Config struct {
	TaxonomyTTL     time.Duration
	ObservationTTL  time.Duration
	HotspotTTL      time.Duration
	DefaultTTL      time.Duration
	MaxStaleEntries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TaxonomyTTL:     24 * time.Hour,
		ObservationTTL:  15 * time.Minute,
		HotspotTTL:      time.Hour,
		DefaultTTL:      15 * time.Minute,
		MaxStaleEntries: 1000,
	}
}

type staleEntry struct {
	value    any
	storedAt time.Time
}

// Store is a key-addressed TTL cache. Fresh values live in a go-cache backend
// with per-item TTLs and lazy eviction (no janitor); the last known value of
// every key is additionally retained, bounded, so callers can degrade to
// stale data when the upstream source fails.
type Store struct {
	backend *gocache.Cache
	ttls    map[Class]time.Duration

	mu         sync.Mutex
	dependents map[string]map[string]struct{} // key -> keys that depend on it
	lastKnown  map[string]staleEntry
	maxStale   int
}

// New creates a Store with the given per-class TTLs.
func New(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.TaxonomyTTL == 0 {
		cfg.TaxonomyTTL = def.TaxonomyTTL
	}
	if cfg.ObservationTTL == 0 {
		cfg.ObservationTTL = def.ObservationTTL
	}
	if cfg.HotspotTTL == 0 {
		cfg.HotspotTTL = def.HotspotTTL
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxStaleEntries == 0 {
		cfg.MaxStaleEntries = def.MaxStaleEntries
	}

	return &Store{
		// Cleanup interval 0 disables the janitor goroutine; expired
		// entries are evicted lazily on lookup.
		backend: gocache.New(cfg.DefaultTTL, 0),
		ttls: map[Class]time.Duration{
			ClassTaxonomy:    cfg.TaxonomyTTL,
			ClassObservation: cfg.ObservationTTL,
			ClassHotspot:     cfg.HotspotTTL,
			ClassDefault:     cfg.DefaultTTL,
		},
		dependents: make(map[string]map[string]struct{}),
		lastKnown:  make(map[string]staleEntry),
		maxStale:   cfg.MaxStaleEntries,
	}
}

// Get returns the fresh value for key, or found=false when absent or expired.
func (s *Store) Get(key string) (any, bool) {
	return s.backend.Get(key)
}

// GetStale returns the last known value for key even if its TTL has elapsed.
// stale is true when the value is no longer fresh.
func (s *Store) GetStale(key string) (value any, found, stale bool) {
	if v, ok := s.backend.Get(key); ok {
		return v, true, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.lastKnown[key]
	if !ok {
		return nil, false, false
	}
	return entry.value, true, true
}

// Set stores value under key with the TTL of its class. dependsOn declares
// keys whose invalidation must cascade to this entry.
func (s *Store) Set(key string, value any, class Class, dependsOn ...string) {
	ttl, ok := s.ttls[class]
	if !ok {
		ttl = s.ttls[ClassDefault]
	}
	s.backend.Set(key, value, ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastKnown[key] = staleEntry{value: value, storedAt: time.Now()}
	s.evictStaleOverflowLocked()

	for _, dep := range dependsOn {
		if s.dependents[dep] == nil {
			s.dependents[dep] = make(map[string]struct{})
		}
		s.dependents[dep][key] = struct{}{}
	}
}

// Invalidate removes key and, transitively, every key that declared a
// dependency on it. Cycle-safe: each key is visited at most once.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	visited := make(map[string]struct{})
	s.invalidateLocked(key, visited)
}

func (s *Store) invalidateLocked(key string, visited map[string]struct{}) {
	if _, seen := visited[key]; seen {
		return
	}
	visited[key] = struct{}{}

	s.backend.Delete(key)
	delete(s.lastKnown, key)

	deps := s.dependents[key]
	delete(s.dependents, key)
	for dep := range deps {
		s.invalidateLocked(dep, visited)
	}
}

// Flush removes all entries including retained stale values.
func (s *Store) Flush() {
	s.backend.Flush()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependents = make(map[string]map[string]struct{})
	s.lastKnown = make(map[string]staleEntry)
}

// ItemCount returns the number of entries in the fresh cache, which may
// include expired entries not yet lazily evicted.
func (s *Store) ItemCount() int {
	return s.backend.ItemCount()
}

// evictStaleOverflowLocked drops the oldest retained values once the stale
// store exceeds its bound. Caller must hold s.mu.
func (s *Store) evictStaleOverflowLocked() {
	for len(s.lastKnown) > s.maxStale {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range s.lastKnown {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}
		delete(s.lastKnown, oldestKey)
	}
}
