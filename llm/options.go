package llm

import "time"

// Format selects how the gateway treats the completion text.
type Format string

// Response formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// DefaultTemperature is applied when Options.Temperature is nil.
const DefaultTemperature = 0.7

// Options parameterize a chat call. The zero value is usable.
type Options struct {
	// Model overrides the registry-configured model for the provider.
	Model string

	// Temperature controls randomness; nil applies DefaultTemperature.
	Temperature *float64

	// MaxTokens limits the completion length. Zero uses provider default.
	MaxTokens int

	// TopP is nucleus sampling; nil uses provider default.
	TopP *float64

	// StopSequences end generation early.
	StopSequences []string

	// ResponseFormat selects structured parsing. With FormatJSON the
	// gateway extracts and parses a JSON object, falling back to raw text
	// when parsing fails.
	ResponseFormat Format
}

func (o Options) withDefaults() Options {
	if o.Temperature == nil {
		t := DefaultTemperature
		o.Temperature = &t
	}
	if o.ResponseFormat == "" {
		o.ResponseFormat = FormatText
	}
	return o
}

// EffectiveTemperature returns the temperature that will be sent.
func (o Options) EffectiveTemperature() float64 {
	if o.Temperature == nil {
		return DefaultTemperature
	}
	return *o.Temperature
}

// ChatResponse is the gateway's result for a non-streaming call.
type ChatResponse struct {
	// Content is the raw completion text.
	Content string

	// JSON is the parsed object when ResponseFormat was FormatJSON and
	// parsing succeeded; nil otherwise.
	JSON map[string]any

	// Provider is the registry name of the provider that answered.
	Provider string

	// Model is the model that produced the completion.
	Model string

	// Usage is provider-reported when available, estimated otherwise.
	Usage TokenUsage

	// UsageEstimated marks Usage as a byte-length estimate.
	UsageEstimated bool

	// Cost is the dollar cost computed from the pricing table.
	Cost float64

	// Latency is the wall time of the successful attempt.
	Latency time.Duration

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// RetryConfig holds per-provider retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum attempts per provider.
	MaxAttempts int

	// InitialDelay is the first backoff delay.
	InitialDelay time.Duration

	// Multiplier grows the delay each attempt.
	Multiplier float64

	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the standard gateway retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}
