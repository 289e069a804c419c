// Package circuitbreaker stops calling a failing dependency for a while so
// that callers fail fast instead of piling up on timeouts.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen admits one trial call at a time.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without running the call while the circuit is
// open, or while a half-open trial call is still in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// IsRejection reports whether err came from the breaker rather than the call.
func IsRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

type settings struct {
	name             string
	failureThreshold int
	successThreshold int
	openFor          time.Duration
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)
	now              func() time.Time
}

// Option configures a CircuitBreaker.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the circuit.
// Default: 5
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many consecutive half-open successes close
// the circuit. Default: 1
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successThreshold = n
		}
	}
}

// WithTimeout sets how long the circuit stays open. Default: 30s
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.openFor = d
		}
	}
}

// WithIsFailure decides which errors count against the dependency. Errors
// it rejects count as successes. By default every error counts.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// WithOnStateChange is called on every transition, under the breaker lock.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// CircuitBreaker guards calls to one dependency.
type CircuitBreaker struct {
	cfg settings

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trial     bool
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
		openFor:          30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the circuit rejects the call, and records the
// outcome. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.now().Sub(cb.openedAt) < cb.cfg.openFor {
			return ErrCircuitOpen
		}
		cb.moveTo(StateHalfOpen)
	case StateHalfOpen:
		if cb.trial {
			return ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.trial = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && (cb.cfg.isFailure == nil || cb.cfg.isFailure(err))
	cb.trial = false

	if !failed {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen && cb.successes >= cb.cfg.successThreshold {
			cb.moveTo(StateClosed)
		}
		return
	}

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.failureThreshold {
		cb.openedAt = cb.cfg.now()
		cb.moveTo(StateOpen)
	}
}

func (cb *CircuitBreaker) moveTo(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures, cb.successes = 0, 0
	cb.trial = false

	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.cfg.name, from, to)
	}
}
