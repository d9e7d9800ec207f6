package llm

import (
	"net/http"
	"sync"

	"github.com/signalmesh/signalmesh/model"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// TokenUsage is the token consumption of one call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ProviderResult is the raw parsed result from one provider call.
type ProviderResult struct {
	Content      string
	Model        string
	Usage        TokenUsage
	FinishReason string
}

// StreamChunk is one streamed fragment. A chunk with Done set terminates
// the stream and carries the final usage.
type StreamChunk struct {
	Delta string
	Done  bool
	Usage *TokenUsage
}

// Provider implements the wire protocol for one LLM vendor.
type Provider interface {
	// Name returns the protocol identifier (e.g. "anthropic").
	Name() string

	// BuildURL constructs the chat endpoint URL for cfg.
	BuildURL(cfg *model.ProviderConfig) string

	// SetHeaders adds provider-specific headers, including authentication
	// from the environment variable named by cfg.
	SetHeaders(req *http.Request, cfg *model.ProviderConfig)

	// BuildRequestBody serializes the request. stream selects the
	// streaming wire format.
	BuildRequestBody(cfg *model.ProviderConfig, messages []Message, opts Options, stream bool) ([]byte, error)

	// ParseResponse extracts the completion from a non-streaming response.
	ParseResponse(body []byte) (*ProviderResult, error)

	// ParseStreamLine parses one line of a streaming response. A nil chunk
	// means the line carries no content (keep reading).
	ParseStreamLine(line []byte) (*StreamChunk, error)
}

var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider implementation to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider implementation by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}
