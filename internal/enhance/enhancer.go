// Package enhance is the language-model enhancer boundary. The pipeline
// treats enhancement as strictly optional: a failing or absent enhancer
// always degrades to the deterministic template fallback, never to an error.
package enhance

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/birdtrip/birdtrip-go/internal/logging"
)

// Package-level logger specific to the enhance service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "enhance.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "enhance", serviceLevelVar)
	if err != nil {
		// Fallback: log error to standard log and disable service file logging
		log.Printf("Failed to initialize enhance file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "enhance")
		closeLogger = func() error { return nil }
	}
}

// Candidate is one scored location offered for re-ranking.
type Candidate struct {
	ID           int      `json:"id"`
	Name         string   `json:"name,omitempty"`
	Rank         int      `json:"rank"`
	Score        float64  `json:"score"`
	SpeciesCodes []string `json:"species_codes"`
	DistanceKm   float64  `json:"distance_km"`
}

// Request is the structured prompt payload sent to the enhancer.
type Request struct {
	Region        string      `json:"region"`
	TargetSpecies []string    `json:"target_species"`
	Candidates    []Candidate `json:"candidates"`
}

// Enhancement is the enhancer's structured answer. The template fallback
// produces the same shape so callers never branch on the source.
type Enhancement struct {
	Summary     string          `json:"summary"`
	Notes       map[int]string  `json:"notes,omitempty"`        // per-candidate, keyed by ID
	ScoreDeltas map[int]float64 `json:"score_deltas,omitempty"` // bounded by the caller
	Source      string          `json:"source"`                 // "llm" or "template"
}

// Enhancer produces an enhancement for a set of candidates.
type Enhancer interface {
	Enhance(ctx context.Context, req Request) (*Enhancement, error)
}
