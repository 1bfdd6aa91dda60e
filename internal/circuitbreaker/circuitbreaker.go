package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker is failing fast.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Circuit is open, failing fast
	StateHalfOpen              // Testing if service is back
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

// Config holds circuit breaker configuration
type Config struct {
	Interval         time.Duration // Window after which the failure count resets
	Timeout          time.Duration // How long the circuit stays open
	MaxFailures      uint32        // Consecutive failures before opening
	SuccessThreshold uint32        // Successes needed to close from half-open
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		MaxFailures:      5,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name          string
	config        Config
	mu            sync.Mutex
	state         State
	failures      uint32
	successes     uint32
	lastFailTime  time.Time
	nextAttempt   time.Time
	now           func() time.Time
	onStateChange func(name string, from, to State)
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithStateChange registers a callback invoked on every transition. It
// runs under the breaker's lock and must not call back into it.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// New creates a closed circuit breaker.
func New(name string, config Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn unless the circuit is open. Context cancellation by the
// caller is not counted as a failure of the protected dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return ErrOpen
	}

	err := fn()
	if err != nil && ctx.Err() != nil {
		return err
	}
	cb.record(err == nil)
	return err
}

// State returns the current circuit breaker state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Before(cb.nextAttempt) {
			return false
		}
		cb.successes = 0
		cb.transition(StateHalfOpen)
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if success {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.failures = 0
				cb.successes = 0
				cb.transition(StateClosed)
			}
		}
		return
	}

	if cb.config.Interval > 0 && now.Sub(cb.lastFailTime) > cb.config.Interval {
		cb.failures = 0
	}
	cb.failures++
	cb.lastFailTime = now

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.nextAttempt = now.Add(cb.config.Timeout)
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.nextAttempt = now.Add(cb.config.Timeout)
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}
