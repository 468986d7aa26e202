// Package resilience guards the analysis backends with circuit breakers and
// ordered failover.
//
// A [Breaker] is a three-state breaker (closed, open, half-open). A
// [Failover] puts one breaker and one call deadline in front of every
// configured [llm.Provider] and walks them in order until one answers, so a
// backend that keeps failing or hanging is skipped instead of costing its full
// timeout on every session end.
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

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probes through. A failed probe
	// re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the lower-case name of the state.
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

// Defaults applied by [NewBreaker] to zero config fields.
const (
	DefaultMaxFailures  = 3
	DefaultResetTimeout = time.Minute
	DefaultHalfOpenMax  = 1
)

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	HalfOpenMax int

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	passed   int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          cfg.Now,
	}
}

// Do runs fn unless the breaker is open. An error caused by the caller
// cancelling ctx is not counted against the backend; an expired deadline is.
func (b *Breaker) Do(ctx context.Context, fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case err == nil:
		b.succeed(probe)
	case errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled):
		if probe {
			b.probes--
		}
	default:
		b.fail(probe)
	}
	return err
}

func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrOpen
		}
		b.state = StateHalfOpen
		b.probes, b.passed = 0, 0
		slog.Info("circuit breaker half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			return false, ErrOpen
		}
		b.probes++
		return true, nil
	}
	return false, nil
}

// fail must be called with b.mu held.
func (b *Breaker) fail(probe bool) {
	if probe {
		b.trip()
		slog.Warn("circuit breaker re-opened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		slog.Warn("circuit breaker opened", "name", b.name, "consecutive_failures", b.failures)
		b.trip()
	}
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed(probe bool) {
	if !probe {
		b.failures = 0
		return
	}
	b.passed++
	if b.passed >= b.halfOpenMax {
		b.state = StateClosed
		b.failures = 0
		slog.Info("circuit breaker closed", "name", b.name)
	}
}

// trip must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = 0
}

// State reports the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call to [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures, b.probes, b.passed = 0, 0, 0
}
