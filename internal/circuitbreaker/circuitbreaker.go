// Package circuitbreaker guards transient-I/O boundaries (HAL reads and
// actuator writes) so a persistently failing collaborator
// degrades the caller instead of being retried forever inline.
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's three-state machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute when the breaker is open and not yet due
// for a probe.
var ErrOpen = errors.New("circuit breaker open")

// Config tunes a Breaker.
type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

// Breaker wraps a flaky operation with failure-count-triggered tripping and
// a single-probe half-open recovery check.
type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	openedAt    time.Time
}

// New constructs a Breaker in the Closed state.
func New(name string, cfg Config, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Second
	}
	return &Breaker{name: name, cfg: cfg, logger: logger, state: Closed}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op, fast-failing with ErrOpen if the breaker is open and the
// reset timeout has not yet elapsed. A single probe call is allowed through
// once the timeout has elapsed; its outcome decides Closed vs. re-Open.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := op(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		// Only one probe in flight at a time; callers that race here see
		// the breaker as still open until the probe resolves.
		return false
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed && b.logger != nil {
		b.logger.Info("circuit breaker closing", "name", b.name)
	}
	b.state = Closed
	b.recentFails = 0
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recentFails++
	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
	case Closed:
		if b.recentFails >= b.cfg.MaxFailures {
			b.state = Open
			b.openedAt = time.Now()
			if b.logger != nil {
				b.logger.Warn("circuit breaker opening", "name", b.name, "failures", b.recentFails)
			}
		}
	}
}
