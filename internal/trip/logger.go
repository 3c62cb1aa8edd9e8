package trip

import (
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/birdtrip/birdtrip-go/internal/logging"
)

// Package-level logger specific to the trip pipeline
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "trip.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "trip", serviceLevelVar)
	if err != nil {
		// Fallback: log error to standard log and disable service file logging
		log.Printf("Failed to initialize trip file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "trip")
		closeLogger = func() error { return nil }
	}
}
