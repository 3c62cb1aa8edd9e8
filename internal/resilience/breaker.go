// Package resilience wraps external calls with circuit breaking, retry with
// backoff, and fallback to cached values.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/birdtrip/birdtrip-go/internal/errors"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit is closed and requests are flowing normally.
	StateClosed CircuitState = iota
	// StateHalfOpen means the circuit is testing if the endpoint has recovered.
	StateHalfOpen
	// StateOpen means the circuit is open and requests are being rejected.
	StateOpen
)

// String returns the string representation of CircuitState.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.Newf("circuit breaker is open").
			Component("resilience").
			Category(errors.CategoryCircuitOpen).
			Build()
	// ErrTooManyTrials is returned when the circuit is half-open and the trial budget is spent.
	ErrTooManyTrials = errors.Newf("circuit breaker is half-open, trial budget exhausted").
				Component("resilience").
				Category(errors.CategoryCircuitOpen).
				Build()
)

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit.
	MaxFailures int
	// RecoveryTimeout is how long to wait before transitioning from Open to Half-Open.
	RecoveryTimeout time.Duration
	// HalfOpenMaxTrials is the maximum number of trial calls allowed in half-open state.
	HalfOpenMaxTrials int
}

// DefaultBreakerConfig returns default circuit breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:       5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxTrials: 1,
	}
}

// Breaker implements the circuit breaker pattern for one logical external
// endpoint. It tracks consecutive failures and opens the circuit after a
// threshold is reached, giving the endpoint time to recover before probing it
// again with a bounded number of trial calls.
type Breaker struct {
	config          BreakerConfig
	endpoint        string
	logger          *slog.Logger
	mu              sync.RWMutex
	state           CircuitState
	failures        int
	lastFailureTime time.Time
	lastStateChange time.Time
	halfOpenTrials  int
}

// NewBreaker creates a Breaker for the named endpoint. logger may be nil.
func NewBreaker(config BreakerConfig, endpoint string, logger *slog.Logger) *Breaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultBreakerConfig().RecoveryTimeout
	}
	if config.HalfOpenMaxTrials < 1 {
		config.HalfOpenMaxTrials = DefaultBreakerConfig().HalfOpenMaxTrials
	}

	return &Breaker{
		config:          config,
		endpoint:        endpoint,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed. It performs the Open to Half-Open
// transition once the recovery timeout has elapsed, counting the permitted
// call against the half-open trial budget.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.lastStateChange) >= b.config.RecoveryTimeout {
			b.setState(StateHalfOpen)
			b.halfOpenTrials = 1 // this call is the first trial
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if b.halfOpenTrials >= b.config.HalfOpenMaxTrials {
			return ErrTooManyTrials
		}
		b.halfOpenTrials++
		return nil

	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess resets the failure counter and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailureTime = time.Time{}

	if b.state == StateHalfOpen {
		b.setState(StateClosed)
	}
}

// RecordFailure counts a failure and transitions to Open when the threshold
// is reached or a half-open trial fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.MaxFailures {
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// Trial failed, reopen and restart the recovery timer
		b.setState(StateOpen)

	case StateOpen:
		// Already open, no action needed
	}
}

// setState transitions to a new state. Caller must hold b.mu.
func (b *Breaker) setState(newState CircuitState) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	b.lastStateChange = time.Now()

	if b.logger != nil {
		b.logger.Info("circuit breaker state transition",
			"endpoint", b.endpoint,
			"old_state", oldState.String(),
			"new_state", newState.String(),
			"consecutive_failures", b.failures)
	}
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Failures returns the current number of consecutive failures.
func (b *Breaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// Reset manually resets the circuit breaker to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailureTime = time.Time{}
	b.halfOpenTrials = 0
	b.setState(StateClosed)
}
