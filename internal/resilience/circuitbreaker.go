// Package resilience provides the circuit breaker and failover primitives
// used to spread artifact downloads over the model hub and its mirrors.
//
// [CircuitBreaker] takes a misbehaving source out of rotation for a cooldown.
// [FallbackGroup] tries a primary and its fallbacks in order, each behind its
// own breaker, and [MirrorFetcher] applies that to [artifact.Fetcher].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the source is
// out of rotation.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the rotation state of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker, one failed probe opens it again.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take the
// defaults noted on each field.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change notifications.
	Name string

	// FailureThreshold is the number of consecutive failures that open the
	// breaker. Default: 5.
	FailureThreshold int

	// Cooldown is how long the breaker stays open. Default: 30s.
	Cooldown time.Duration

	// Probes is both the number of concurrent calls admitted while half-open
	// and the number of successes needed to close. Default: 1.
	Probes int

	// IsFailure decides which errors count against the breaker. Others are
	// returned to the caller and count as a success. Default: every error
	// except an ended context.
	IsFailure func(error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreaker guards calls to one artifact source.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker is open, and accounts for its result.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(probe, err != nil && cb.cfg.IsFailure(err))
	return err
}

// admit reports whether the call may proceed and whether it is a probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var from State
	changed := false
	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openedAt.Add(cb.cfg.Cooldown)) {
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.inFlight, cb.successes = 0, 0
	}
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.Probes {
			err = ErrCircuitOpen
		} else {
			cb.inFlight++
			probe = true
		}
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return probe, err
}

func (cb *CircuitBreaker) settle(probe, failed bool) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case probe && cb.state == StateHalfOpen:
		cb.inFlight--
		if failed {
			cb.open()
		} else if cb.successes++; cb.successes >= cb.cfg.Probes {
			cb.state = StateClosed
			cb.failures = 0
		}
	case cb.state == StateClosed:
		if !failed {
			cb.failures = 0
			break
		}
		if cb.failures++; cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

// open must be called with mu held.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.cfg.Now()
	cb.inFlight, cb.successes = 0, 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "circuit breaker state change",
		"name", cb.cfg.Name, "from", from.String(), "to", to.String())
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openedAt.Add(cb.cfg.Cooldown)) {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.inFlight, cb.successes = 0, 0, 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
