// Package classify produces a validated Classification for a
// preprocessed signal via the LLM gateway, with response caching, budget
// gating, and coalescing of concurrent identical requests.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/signalmesh/signalmesh/budget"
	"github.com/signalmesh/signalmesh/cache"
	"github.com/signalmesh/signalmesh/llm"
	"github.com/signalmesh/signalmesh/signal"
)

// ChatClient is the slice of the LLM gateway the classifier needs.
type ChatClient interface {
	Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.ChatResponse, error)
	PrimaryProvider() string
}

// DefaultTemperature keeps classification near-deterministic.
const DefaultTemperature = 0.2

// ErrBudgetExceeded is returned when the daily token budget rejects the
// request before any provider is called.
type ErrBudgetExceeded struct {
	Reason string
}

func (e *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf("token budget exceeded: %s", e.Reason)
}

// Result is a classification plus its provenance.
type Result struct {
	Classification signal.Classification
	Cached         bool
}

// Classifier classifies preprocessed signals.
type Classifier struct {
	client      ChatClient
	cache       *cache.Cache
	budget      *budget.Tracker
	model       string
	temperature float64
	logger      *slog.Logger

	// inflight coalesces concurrent identical requests so at most one
	// miss-resolution per fingerprint hits the gateway.
	mu       sync.Mutex
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done   chan struct{}
	result *Result
	err    error
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel overrides the model requested from the gateway.
func WithModel(model string) Option {
	return func(c *Classifier) { c.model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Classifier) { c.temperature = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a Classifier. responseCache and tracker may be nil to
// disable caching or budget enforcement.
func New(client ChatClient, responseCache *cache.Cache, tracker *budget.Tracker, opts ...Option) *Classifier {
	c := &Classifier{
		client:      client,
		cache:       responseCache,
		budget:      tracker,
		temperature: DefaultTemperature,
		logger:      slog.Default(),
		inflight:    make(map[string]*inflightCall),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns a validated classification for pre. Concurrent calls
// with the same fingerprint share one gateway round trip.
func (c *Classifier) Classify(ctx context.Context, sig signal.Signal, pre *signal.PreprocessedSignal) (*Result, error) {
	prompt := buildPrompt(sig, pre)
	key := cache.Key{Prompt: prompt, Model: c.model, Temperature: c.temperature}
	fp := key.Fingerprint()

	if c.cache != nil {
		if payload, ok := c.cache.Get(key); ok {
			var cls signal.Classification
			if err := json.Unmarshal([]byte(payload), &cls); err == nil {
				return &Result{Classification: cls, Cached: true}, nil
			}
			c.logger.Warn("Cached classification unparseable, refetching", "fingerprint", fp)
		}
	}

	// Coalesce: first caller for a fingerprint resolves, later callers
	// wait on its outcome.
	c.mu.Lock()
	if call, ok := c.inflight[fp]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightCall{done: make(chan struct{})}
	c.inflight[fp] = call
	c.mu.Unlock()

	result, err := c.resolve(ctx, sig, key, prompt)
	call.result, call.err = result, err
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, fp)
	c.mu.Unlock()

	return result, err
}

// resolve performs the budget-gated gateway call with a single retry on
// schema-invalid output.
func (c *Classifier) resolve(ctx context.Context, sig signal.Signal, key cache.Key, prompt string) (*Result, error) {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	if c.budget != nil {
		estimated := c.budget.CountMessageTokens(messages)
		check := c.budget.CheckBudget(estimated, c.client.PrimaryProvider())
		if !check.Allowed {
			return nil, &ErrBudgetExceeded{Reason: check.Reason}
		}
	}

	opts := llm.Options{
		Model:          c.model,
		Temperature:    &c.temperature,
		ResponseFormat: llm.FormatJSON,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := c.client.Chat(ctx, messages, opts)
		if err != nil {
			return nil, fmt.Errorf("classification call: %w", err)
		}
		if c.budget != nil {
			c.budget.TrackUsage(resp.Usage.TotalTokens, resp.Provider)
		}

		cls, err := parseClassification(resp)
		if err != nil {
			lastErr = err
			c.logger.Warn("Classification failed validation, retrying once",
				"signal_id", sig.ID, "attempt", attempt+1, "error", err)
			continue
		}

		if c.cache != nil {
			payload, _ := json.Marshal(cls)
			c.cache.Put(key, string(payload), 0, cache.TypeClassification, &cache.Attributes{
				Source:           string(sig.Source),
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
			})
		}
		return &Result{Classification: *cls}, nil
	}
	return nil, fmt.Errorf("classification failed validation after retry: %w", lastErr)
}
