// Package route dispatches decisions to platform adapters. Selection is
// by action type plus the platform named in the decision's parameters;
// every call runs through the platform's circuit breaker.
package route

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/signalmesh/signalmesh/breaker"
	"github.com/signalmesh/signalmesh/signal"
)

// Result is the typed outcome of one adapter call.
type Result struct {
	Success       bool          `json:"success"`
	Data          any           `json:"data,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// AdapterFunc executes one action against a platform.
type AdapterFunc func(ctx context.Context, decision *signal.Decision) (any, error)

// Router maps action@platform pairs to adapters.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]AdapterFunc
	breakers map[string]*breaker.Breaker

	newBreaker func(platform string) *breaker.Breaker
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithBreakerFactory overrides how per-platform breakers are built.
func WithBreakerFactory(fn func(platform string) *breaker.Breaker) Option {
	return func(r *Router) { r.newBreaker = fn }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		adapters: make(map[string]AdapterFunc),
		breakers: make(map[string]*breaker.Breaker),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.newBreaker == nil {
		r.newBreaker = func(platform string) *breaker.Breaker {
			return breaker.New(breaker.DefaultConfig("platform:" + platform))
		}
	}
	return r
}

// Register binds an adapter to an action on a platform, e.g.
// ("create_task", "notion").
func (r *Router) Register(action signal.Action, platform string, fn AdapterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[routeKey(action, platform)] = fn
	if _, ok := r.breakers[platform]; !ok {
		r.breakers[platform] = r.newBreaker(platform)
	}
}

// RouteAction dispatches a decision to its adapter. Unknown
// action@platform combinations fail without fallback.
func (r *Router) RouteAction(ctx context.Context, decision *signal.Decision) Result {
	start := time.Now()
	platform := decision.Params.Platform()

	r.mu.RLock()
	adapter, ok := r.adapters[routeKey(decision.Action, platform)]
	br := r.breakers[platform]
	r.mu.RUnlock()

	if !ok {
		return Result{
			Error:         fmt.Sprintf("invalid_request: no adapter for %s", routeKey(decision.Action, platform)),
			ExecutionTime: time.Since(start),
		}
	}

	data, err := br.Call(ctx, func(ctx context.Context) (any, error) {
		return adapter(ctx, decision)
	}, nil)
	elapsed := time.Since(start)

	executionsTotal.WithLabelValues(platform, string(decision.Action), outcomeLabel(err)).Inc()
	executionDuration.WithLabelValues(platform).Observe(elapsed.Seconds())

	if err != nil {
		r.logger.Warn("Adapter call failed",
			"action", string(decision.Action), "platform", platform, "error", err)
		return Result{Error: err.Error(), ExecutionTime: elapsed}
	}
	return Result{Success: true, Data: data, ExecutionTime: elapsed}
}

// Platforms returns the registered platform names.
func (r *Router) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.breakers))
	for p := range r.breakers {
		out = append(out, p)
	}
	return out
}

func routeKey(action signal.Action, platform string) string {
	return string(action) + "@" + platform
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
