// Package breaker guards calls to failing integrations with a three-state
// circuit breaker. The state machine is sony/gobreaker; this package adds a
// short-lived fallback cache for open-circuit calls and publishes state
// transitions on the event bus.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/signalmesh/signalmesh/hub"
)

// State mirrors the breaker's three states.
type State string

// Breaker states.
const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the circuit is open and no cached value or
// fallback is available.
var ErrOpen = errors.New("circuit open")

// Config parameterizes a breaker.
type Config struct {
	// Name identifies the protected integration in logs and events.
	Name string
	// FailureThreshold is the consecutive failures that open the circuit.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive half-open successes that close it.
	SuccessThreshold uint32
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// CacheTTL is how long a fallback value is served after caching.
	CacheTTL time.Duration
}

// DefaultConfig returns the standard breaker settings.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		CacheTTL:         30 * time.Second,
	}
}

// Fn is a guarded call.
type Fn func(ctx context.Context) (any, error)

// Fallback produces a degraded value when the circuit rejects a call.
type Fallback func() (any, error)

// Breaker wraps calls to one integration.
type Breaker struct {
	name     string
	cb       *gobreaker.CircuitBreaker
	cacheTTL time.Duration
	logger   *slog.Logger
	bus      *hub.Hub
	now      func() time.Time

	mu         sync.Mutex
	cached     any
	cacheUntil time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithHub publishes state transitions on the given bus.
func WithHub(h *hub.Hub) Option {
	return func(b *Breaker) { b.bus = h }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a breaker from cfg.
func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		name:     cfg.Name,
		cacheTTL: cfg.CacheTTL,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: b.onStateChange,
	})
	return b
}

// Name returns the breaker's integration name.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}

// Counts exposes the underlying failure/success counters.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

// Call runs fn under the breaker. When the circuit rejects the call, a
// fresh cached value is served first; otherwise fallback runs and its value
// is cached for CacheTTL. When fn itself fails and a fallback is supplied,
// the fallback value is cached and served so downstream consumers see a
// degraded answer rather than an error.
func (b *Breaker) Call(ctx context.Context, fn Fn, fallback Fallback) (any, error) {
	out, err := b.cb.Execute(func() (any, error) { return fn(ctx) })
	if err == nil {
		return out, nil
	}

	rejected := errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
	if rejected {
		if v, ok := b.freshCache(); ok {
			return v, nil
		}
		if fallback == nil {
			return nil, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		v, ferr := fallback()
		if ferr != nil {
			return nil, fmt.Errorf("%s: fallback failed: %w", b.name, ferr)
		}
		b.storeCache(v)
		return v, nil
	}

	// fn failed. With a fallback we degrade and cache; without, surface.
	if fallback != nil {
		if v, ferr := fallback(); ferr == nil {
			b.storeCache(v)
			return v, nil
		}
	}
	return nil, err
}

func (b *Breaker) freshCache() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached != nil && b.now().Before(b.cacheUntil) {
		return b.cached, true
	}
	return nil, false
}

func (b *Breaker) storeCache(v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cached = v
	b.cacheUntil = b.now().Add(b.cacheTTL)
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	b.logger.Info("Circuit state changed",
		"breaker", name, "from", from.String(), "to", to.String())
	if b.bus == nil {
		return
	}
	b.bus.Emit(hub.Event{
		Source:   "breaker:" + name,
		Type:     hub.EventCircuitStateChange,
		Priority: hub.PriorityHigh,
		Data: map[string]string{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		},
	})
}
