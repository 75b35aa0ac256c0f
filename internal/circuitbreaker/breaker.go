// Package circuitbreaker wraps gobreaker's generic breaker with the
// Closed/Open/HalfOpen contract C2 needs to shield the primary sink from a
// sustained MongoDB outage.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// State mirrors gobreaker.State under names this domain's callers read
// naturally (health classification, metrics labels, log fields).
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config holds the two tunables spec.md §4.2 names explicitly.
type Config struct {
	Name             string
	FailureThreshold uint32
	Cooldown         time.Duration
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// ErrOpen is returned by Execute when the breaker is fast-failing a call.
var ErrOpen = gobreaker.ErrOpenState

// Breaker gates calls to the primary sink. It is a typed façade over
// gobreaker.CircuitBreaker[struct{}] — admission and outcome recording
// happen atomically inside Execute, which is how gobreaker's public API is
// shaped; callers needing "check before work, record after" (§4.2) get it
// by wrapping the actual write inside the fn passed to Execute.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[struct{}]

	mu            sync.Mutex
	onStateChange func(from, to State)
}

// New constructs a Breaker for the given configuration. cfg.FailureThreshold
// and cfg.Cooldown fall back to DefaultConfig's values when zero.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}

	b := &Breaker{}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // exactly one probe admitted while HalfOpen, per §4.2
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.mu.Lock()
			cb := b.onStateChange
			b.mu.Unlock()
			if cb != nil {
				cb(fromGobreaker(from), fromGobreaker(to))
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker[struct{}](settings)
	return b
}

// OnStateChange registers a callback invoked whenever the breaker's state
// transitions. Only one callback is retained; callers needing fan-out
// should bridge through internal/events.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Execute runs fn if the breaker currently admits work, recording its
// outcome. It returns ErrOpen without calling fn when the breaker is Open
// (or HalfOpen with its single probe already in flight).
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Counts exposes gobreaker's running counters for metrics/diagnostics.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
