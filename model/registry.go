// Package model manages the LLM provider registry: the ordered provider
// list the gateway falls back across, per-provider endpoint configuration,
// per-model pricing, and endpoint health tracking.
package model

import (
	"sync"
	"time"
)

// ProviderConfig defines one configured provider endpoint.
type ProviderConfig struct {
	// Provider is the wire protocol ("anthropic", "openai", "ollama").
	Provider string `yaml:"provider" json:"provider"`

	// BaseURL overrides the provider's default API base URL.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Model is the model identifier sent to the provider.
	Model string `yaml:"model" json:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`

	// MaxTokens is the context window size.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Timeout bounds a single request. Zero means the registry default.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Pricing is the per-1000-token cost for a model.
type Pricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// Registry holds the ordered provider configuration.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]*ProviderConfig
	pricing   map[string]Pricing
	health    *healthState
}

// DefaultRequestTimeout bounds a single provider request when the endpoint
// does not configure its own.
const DefaultRequestTimeout = 30 * time.Second

// NewRegistry creates a registry with the given provider order and configs.
func NewRegistry(order []string, providers map[string]*ProviderConfig, pricing map[string]Pricing) *Registry {
	return &Registry{
		order:     order,
		providers: providers,
		pricing:   pricing,
	}
}

// NewDefaultRegistry returns a registry with a sensible provider chain:
// anthropic first, openai second, a local ollama as last resort.
func NewDefaultRegistry() *Registry {
	return &Registry{
		order: []string{"anthropic", "openai", "ollama"},
		providers: map[string]*ProviderConfig{
			"anthropic": {
				Provider:  "anthropic",
				Model:     "claude-sonnet-4-20250514",
				APIKeyEnv: "ANTHROPIC_API_KEY",
				MaxTokens: 200000,
			},
			"openai": {
				Provider:  "openai",
				Model:     "gpt-4o-mini",
				APIKeyEnv: "OPENAI_API_KEY",
				MaxTokens: 128000,
			},
			"ollama": {
				Provider:  "ollama",
				BaseURL:   "http://localhost:11434",
				Model:     "qwen2.5:14b",
				MaxTokens: 32768,
			},
		},
		pricing: map[string]Pricing{
			"anthropic": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
			"openai":    {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
			"ollama":    {},
		},
	}
}

// Order returns the configured provider order.
func (r *Registry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SetOrder replaces the provider order.
func (r *Registry) SetOrder(order []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = order
}

// Primary returns the first configured provider, or "".
func (r *Registry) Primary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return ""
	}
	return r.order[0]
}

// AvailableOrder returns the provider order filtered to endpoints whose
// circuit is not open. If every endpoint is unavailable the full order is
// returned: better to try something than nothing.
func (r *Registry) AvailableOrder() []string {
	order := r.Order()
	available := make([]string, 0, len(order))
	for _, name := range order {
		if r.IsAvailable(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return order
	}
	return available
}

// Get returns the configuration for a provider name, or nil.
func (r *Registry) Get(name string) *ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// Set updates or adds a provider configuration.
func (r *Registry) Set(name string, cfg *ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providers == nil {
		r.providers = make(map[string]*ProviderConfig)
	}
	r.providers[name] = cfg
}

// PricingFor returns the pricing for a provider. Unknown providers cost
// nothing (local models).
func (r *Registry) PricingFor(name string) Pricing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pricing[name]
}

// CostFor computes the dollar cost of a call against a provider.
func (r *Registry) CostFor(name string, promptTokens, completionTokens int) float64 {
	p := r.PricingFor(name)
	return float64(promptTokens)/1000*p.PromptPer1K +
		float64(completionTokens)/1000*p.CompletionPer1K
}

// RequestTimeout returns the per-request timeout for a provider.
func (r *Registry) RequestTimeout(name string) time.Duration {
	if cfg := r.Get(name); cfg != nil && cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return DefaultRequestTimeout
}
