package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalmesh/signalmesh/model"
)

// echoProvider is a minimal wire protocol for tests: POST anywhere, the
// response body is {"content": ..., "model": ...}.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) BuildURL(cfg *model.ProviderConfig) string { return cfg.BaseURL }

func (echoProvider) SetHeaders(req *http.Request, cfg *model.ProviderConfig) {}

func (echoProvider) BuildRequestBody(cfg *model.ProviderConfig, messages []Message, opts Options, stream bool) ([]byte, error) {
	return json.Marshal(map[string]any{"messages": messages})
}

func (echoProvider) ParseResponse(body []byte) (*ProviderResult, error) {
	var payload struct {
		Content string     `json:"content"`
		Model   string     `json:"model"`
		Usage   TokenUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &ProviderResult{Content: payload.Content, Model: payload.Model, Usage: payload.Usage}, nil
}

func (echoProvider) ParseStreamLine(line []byte) (*StreamChunk, error) { return nil, nil }

func init() { RegisterProvider(echoProvider{}) }

func testRegistry(urls ...string) *model.Registry {
	order := make([]string, len(urls))
	providers := make(map[string]*model.ProviderConfig, len(urls))
	for i, u := range urls {
		name := string(rune('a' + i))
		order[i] = name
		providers[name] = &model.ProviderConfig{Provider: "echo", BaseURL: u, Model: "test-model"}
	}
	return model.NewRegistry(order, providers, map[string]model.Pricing{
		"a": {PromptPer1K: 1, CompletionPer1K: 2},
	})
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond}
}

func TestChatReturnsFirstProviderResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content": "hello",
			"model":   "test-model",
			"usage":   TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	g := New(testRegistry(srv.URL), WithRetryConfig(fastRetry()))
	resp, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "a", resp.Provider)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.False(t, resp.UsageEstimated)
	// 10 prompt tokens at $1/1k plus 5 completion at $2/1k.
	assert.InDelta(t, 0.02, resp.Cost, 1e-9)
}

func TestChatFallsBackToNextProvider(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"content": "fallback answer"})
	}))
	defer up.Close()

	g := New(testRegistry(down.URL, up.URL), WithRetryConfig(fastRetry()))
	resp, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", resp.Content)
	assert.Equal(t, "b", resp.Provider)
	assert.True(t, resp.UsageEstimated)
}

func TestChatRetriesRetriableFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"content": "second try"})
	}))
	defer srv.Close()

	g := New(testRegistry(srv.URL), WithRetryConfig(fastRetry()))
	resp, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "second try", resp.Content)
	assert.Equal(t, 2, calls)
}

func TestChatDoesNotRetryAuthFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := New(testRegistry(srv.URL), WithRetryConfig(fastRetry()))
	_, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, ErrClassProvider, gerr.Class)
	assert.Contains(t, err.Error(), "all providers failed")
}

func TestChatAllProvidersDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := New(testRegistry(srv.URL, srv.URL), WithRetryConfig(fastRetry()))
	_, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
}

func TestChatRequiresMessages(t *testing.T) {
	g := New(testRegistry())
	_, err := g.Chat(context.Background(), nil, Options{})
	require.Error(t, err)

	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, ErrClassInvalidRequest, gerr.Class)
}

func TestChatParsesJSONFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content": "```json\n{\"urgency\": \"high\"}\n```",
		})
	}))
	defer srv.Close()

	g := New(testRegistry(srv.URL), WithRetryConfig(fastRetry()))
	resp, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "classify"}},
		Options{ResponseFormat: FormatJSON})
	require.NoError(t, err)
	require.NotNil(t, resp.JSON)
	assert.Equal(t, "high", resp.JSON["urgency"])
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		wantClass ErrorClass
		retriable bool
	}{
		{http.StatusUnauthorized, "", ErrClassAuthentication, false},
		{http.StatusForbidden, "", ErrClassAuthentication, false},
		{http.StatusTooManyRequests, "", ErrClassRateLimit, true},
		{http.StatusNotFound, "model does not exist", ErrClassModelNotFound, false},
		{http.StatusBadRequest, "bad payload", ErrClassInvalidRequest, false},
		{http.StatusBadRequest, "content_filter triggered", ErrClassContentFilter, true},
		{http.StatusInternalServerError, "", ErrClassProvider, true},
	}

	for _, tt := range tests {
		gerr := classifyHTTPError("p", tt.status, []byte(tt.body))
		assert.Equal(t, tt.wantClass, gerr.Class, "status %d", tt.status)
		assert.Equal(t, tt.retriable, gerr.Retriable(), "status %d", tt.status)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	g := New(testRegistry(), WithRetryConfig(RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     300 * time.Millisecond,
	}))

	// Jitter is ±25%, so bound rather than pin.
	b1 := g.backoff(1)
	assert.GreaterOrEqual(t, b1, 75*time.Millisecond)
	assert.LessOrEqual(t, b1, 125*time.Millisecond)

	b4 := g.backoff(4)
	assert.LessOrEqual(t, b4, 375*time.Millisecond) // capped at 300 before jitter
}
