// Package llm provides the provider-agnostic LLM gateway: a single chat
// surface over an ordered list of providers, with per-provider retry,
// exponential backoff, error classification, and cross-provider fallback.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/signalmesh/signalmesh/model"
)

// maxResponseSize limits a response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Gateway is the multi-provider chat client.
type Gateway struct {
	registry   *model.Registry
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(g *Gateway) { g.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a gateway over the given provider registry.
func New(registry *model.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		registry: registry,
		retry:    DefaultRetryConfig(),
		// Timeouts are applied per attempt from the registry; the client
		// itself stays unbounded.
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PrimaryProvider returns the first provider in the configured order.
func (g *Gateway) PrimaryProvider() string { return g.registry.Primary() }

// Chat sends a completion request, trying each configured provider in
// order with per-provider retry. Non-retriable failures fall through to
// the next provider immediately.
func (g *Gateway) Chat(ctx context.Context, messages []Message, opts Options) (*ChatResponse, error) {
	if len(messages) == 0 {
		return nil, &Error{Class: ErrClassInvalidRequest, Err: fmt.Errorf("at least one message is required")}
	}
	opts = opts.withDefaults()

	var lastErr *Error
	for _, name := range g.registry.AvailableOrder() {
		cfg := g.registry.Get(name)
		if cfg == nil {
			continue
		}
		provider := GetProvider(cfg.Provider)
		if provider == nil {
			g.logger.Warn("No implementation for provider protocol; skipping",
				"provider", name, "protocol", cfg.Provider)
			continue
		}

		resp, gerr := g.tryProvider(ctx, name, cfg, provider, messages, opts)
		if gerr == nil {
			g.registry.MarkSuccess(name)
			return resp, nil
		}
		lastErr = gerr
		g.registry.MarkFailure(name)
		g.logger.Warn("Provider failed, falling back",
			"provider", name, "class", string(gerr.Class), "error", gerr.Err)

		if ctx.Err() != nil {
			return nil, &Error{Class: ErrClassTimeout, Provider: name, Err: ctx.Err()}
		}
	}

	if lastErr == nil {
		return nil, &Error{Class: ErrClassProvider, Err: fmt.Errorf("no providers configured")}
	}
	return nil, &Error{Class: ErrClassProvider, Provider: lastErr.Provider,
		Err: fmt.Errorf("all providers failed: %w", lastErr)}
}

// tryProvider runs up to MaxAttempts against one provider with exponential
// backoff. The loop is a plain fold over classified errors: a non-retriable
// class returns immediately.
func (g *Gateway) tryProvider(ctx context.Context, name string, cfg *model.ProviderConfig, provider Provider, messages []Message, opts Options) (*ChatResponse, *Error) {
	var lastErr *Error

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		start := time.Now()
		result, gerr := g.doRequest(ctx, name, cfg, provider, messages, opts)
		if gerr == nil {
			return g.finishResponse(name, messages, result, opts, time.Since(start)), nil
		}

		lastErr = gerr
		requestsTotal.WithLabelValues(name, string(gerr.Class)).Inc()
		if !gerr.Retriable() {
			return nil, gerr
		}

		if attempt < g.retry.MaxAttempts {
			backoff := g.backoff(attempt)
			g.logger.Debug("Request failed, retrying",
				"provider", name, "attempt", attempt, "backoff", backoff, "error", gerr.Err)
			select {
			case <-ctx.Done():
				return nil, &Error{Class: ErrClassTimeout, Provider: name, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

// backoff computes initialDelay × multiplier^(attempt-1), capped at
// MaxDelay, with ±25% jitter against synchronized retries.
func (g *Gateway) backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= g.retry.Multiplier
	}
	backoff := time.Duration(float64(g.retry.InitialDelay) * multiplier)
	if backoff > g.retry.MaxDelay {
		backoff = g.retry.MaxDelay
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doRequest executes a single HTTP request against one provider.
func (g *Gateway) doRequest(ctx context.Context, name string, cfg *model.ProviderConfig, provider Provider, messages []Message, opts Options) (*ProviderResult, *Error) {
	body, err := provider.BuildRequestBody(cfg, messages, opts, false)
	if err != nil {
		return nil, &Error{Class: ErrClassInvalidRequest, Provider: name,
			Err: fmt.Errorf("build request body: %w", err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.registry.RequestTimeout(name))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, provider.BuildURL(cfg), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Class: ErrClassInvalidRequest, Provider: name,
			Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq, cfg)

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(name, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(name, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(name, httpResp.StatusCode, respBody)
	}

	result, err := provider.ParseResponse(respBody)
	if err != nil {
		return nil, &Error{Class: ErrClassProvider, Provider: name,
			Err: fmt.Errorf("parse response: %w", err)}
	}
	return result, nil
}

// finishResponse assembles the ChatResponse: usage (reported or
// estimated), cost, latency, and optional JSON parsing.
func (g *Gateway) finishResponse(name string, messages []Message, result *ProviderResult, opts Options, latency time.Duration) *ChatResponse {
	resp := &ChatResponse{
		Content:      result.Content,
		Provider:     name,
		Model:        result.Model,
		Usage:        result.Usage,
		Latency:      latency,
		FinishReason: result.FinishReason,
	}

	if resp.Usage.TotalTokens == 0 {
		resp.Usage = estimateUsage(messages, result.Content)
		resp.UsageEstimated = true
	}
	resp.Cost = g.registry.CostFor(name, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	if opts.ResponseFormat == FormatJSON {
		if raw := ExtractJSON(result.Content); raw != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
				resp.JSON = parsed
			} else {
				g.logger.Debug("JSON parse failed; returning raw text", "error", err)
			}
		}
	}

	requestsTotal.WithLabelValues(name, "ok").Inc()
	tokensTotal.WithLabelValues(name).Add(float64(resp.Usage.TotalTokens))
	return resp
}

// estimateUsage approximates token counts at four bytes per token when the
// provider does not report usage.
func estimateUsage(messages []Message, completion string) TokenUsage {
	var promptBytes int
	for _, m := range messages {
		promptBytes += len(m.Role) + len(m.Content)
	}
	usage := TokenUsage{
		PromptTokens:     (promptBytes + 3) / 4,
		CompletionTokens: (len(completion) + 3) / 4,
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}
