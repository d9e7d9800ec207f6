// Package config holds the runtime configuration surface. Values come
// from defaults overridden by environment variables; there is no config
// file for behavior settings (the provider registry YAML is separate, see
// the model package).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	// DataDir is the root for all persistent state files.
	DataDir string

	LLM      LLMConfig
	Cache    CacheConfig
	Review   ReviewConfig
	Queue    QueueConfig
	Breaker  BreakerConfig
	Decision DecisionConfig
}

// LLMConfig configures the gateway and token budget.
type LLMConfig struct {
	// ProviderOrder is the fallback order of provider names.
	ProviderOrder []string
	// RegistryPath is the optional provider registry YAML.
	RegistryPath string
	// MaxDailyTokens caps total tokens per local calendar day.
	MaxDailyTokens int
}

// CacheConfig configures response-cache TTLs.
type CacheConfig struct {
	ClassificationTTL time.Duration
	DecisionTTL       time.Duration
	OtherTTL          time.Duration
	// WarmPatternsPath is the optional warm-pattern YAML watched for changes.
	WarmPatternsPath string
}

// ReviewConfig configures review auto-expiry per risk tier. Critical
// never expires.
type ReviewConfig struct {
	LowExpiry    time.Duration
	MediumExpiry time.Duration
	HighExpiry   time.Duration
}

// QueueConfig configures the action queue.
type QueueConfig struct {
	MaxConcurrent      int
	MaxAttempts        int
	BackoffBase        time.Duration
	ProcessingInterval time.Duration
}

// BreakerConfig configures circuit breakers.
type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	Timeout          time.Duration
	CacheTTL         time.Duration
}

// DecisionConfig holds the confidence thresholds.
type DecisionConfig struct {
	AutoExecute     float64
	RequireApproval float64
	Reject          float64
	// ForbiddenTargets are policy-blocked recipients/platforms/channels.
	ForbiddenTargets []string
	// TrustedSenders skip the spam review flag.
	TrustedSenders []string
}

// Default returns the standard configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".signalmesh"),
		LLM: LLMConfig{
			ProviderOrder:  []string{"anthropic", "openai", "ollama"},
			MaxDailyTokens: 500_000,
		},
		Cache: CacheConfig{
			ClassificationTTL: time.Hour,
			DecisionTTL:       30 * time.Minute,
			OtherTTL:          15 * time.Minute,
		},
		Review: ReviewConfig{
			LowExpiry:    time.Hour,
			MediumExpiry: 4 * time.Hour,
			HighExpiry:   24 * time.Hour,
		},
		Queue: QueueConfig{
			MaxConcurrent:      5,
			MaxAttempts:        3,
			BackoffBase:        time.Second,
			ProcessingInterval: 2 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
			CacheTTL:         30 * time.Second,
		},
		Decision: DecisionConfig{
			AutoExecute:     0.8,
			RequireApproval: 0.5,
			Reject:          0.3,
		},
	}
}

// Load returns the default configuration with environment overrides
// applied.
func Load() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("SIGNALMESH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LLM_PROVIDER_ORDER"); v != "" {
		cfg.LLM.ProviderOrder = splitList(v)
	}
	if v := os.Getenv("LLM_REGISTRY_PATH"); v != "" {
		cfg.LLM.RegistryPath = v
	}
	envInt("MAX_DAILY_TOKENS", &cfg.LLM.MaxDailyTokens)

	envMillis("CACHE_TTL_CLASSIFICATION_MS", &cfg.Cache.ClassificationTTL)
	envMillis("CACHE_TTL_DECISION_MS", &cfg.Cache.DecisionTTL)
	envMillis("CACHE_TTL_OTHER_MS", &cfg.Cache.OtherTTL)
	if v := os.Getenv("CACHE_WARM_PATTERNS"); v != "" {
		cfg.Cache.WarmPatternsPath = v
	}

	envMillis("REVIEW_LOW_EXPIRY_MS", &cfg.Review.LowExpiry)
	envMillis("REVIEW_MEDIUM_EXPIRY_MS", &cfg.Review.MediumExpiry)
	envMillis("REVIEW_HIGH_EXPIRY_MS", &cfg.Review.HighExpiry)

	envInt("MAX_CONCURRENT_ACTIONS", &cfg.Queue.MaxConcurrent)
	envInt("MAX_ATTEMPTS", &cfg.Queue.MaxAttempts)
	envMillis("BACKOFF_BASE_MS", &cfg.Queue.BackoffBase)
	envMillis("PROCESSING_INTERVAL_MS", &cfg.Queue.ProcessingInterval)

	envUint32("FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	envUint32("SUCCESS_THRESHOLD", &cfg.Breaker.SuccessThreshold)
	envMillis("TIMEOUT_MS", &cfg.Breaker.Timeout)
	envMillis("CACHE_TTL_MS", &cfg.Breaker.CacheTTL)

	envFloat("CONFIDENCE_AUTO_EXECUTE", &cfg.Decision.AutoExecute)
	envFloat("CONFIDENCE_REQUIRE_APPROVAL", &cfg.Decision.RequireApproval)
	envFloat("CONFIDENCE_REJECT", &cfg.Decision.Reject)
	if v := os.Getenv("FORBIDDEN_TARGETS"); v != "" {
		cfg.Decision.ForbiddenTargets = splitList(v)
	}
	if v := os.Getenv("TRUSTED_SENDERS"); v != "" {
		cfg.Decision.TrustedSenders = splitList(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.LLM.MaxDailyTokens <= 0 {
		return fmt.Errorf("MAX_DAILY_TOKENS must be positive, got %d", c.LLM.MaxDailyTokens)
	}
	if len(c.LLM.ProviderOrder) == 0 {
		return fmt.Errorf("LLM_PROVIDER_ORDER must name at least one provider")
	}
	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_ACTIONS must be positive, got %d", c.Queue.MaxConcurrent)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", c.Queue.MaxAttempts)
	}
	for name, v := range map[string]float64{
		"CONFIDENCE_AUTO_EXECUTE":     c.Decision.AutoExecute,
		"CONFIDENCE_REQUIRE_APPROVAL": c.Decision.RequireApproval,
		"CONFIDENCE_REJECT":           c.Decision.Reject,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.Decision.Reject > c.Decision.RequireApproval || c.Decision.RequireApproval > c.Decision.AutoExecute {
		return fmt.Errorf("confidence thresholds must satisfy reject <= require_approval <= auto_execute")
	}
	return nil
}

// Paths for persistent state under DataDir.

// EventLogPath is the append-only hub event log.
func (c *Config) EventLogPath() string { return filepath.Join(c.DataDir, "events.jsonl") }

// RetryStorePath is the retry queue store.
func (c *Config) RetryStorePath() string { return filepath.Join(c.DataDir, "retry-queue.json") }

// FailedOpsPath is the terminal failed-operations log.
func (c *Config) FailedOpsPath() string { return filepath.Join(c.DataDir, "failed-ops.jsonl") }

// CacheStorePath is the response-cache warm set.
func (c *Config) CacheStorePath() string { return filepath.Join(c.DataDir, "cache.json") }

// TokenUsagePath is the token-usage store.
func (c *Config) TokenUsagePath() string { return filepath.Join(c.DataDir, "token-usage.json") }

// ReviewStorePath is the review queue snapshot.
func (c *Config) ReviewStorePath() string { return filepath.Join(c.DataDir, "review-queue.json") }

// QueueStorePath is the action queue snapshot.
func (c *Config) QueueStorePath() string { return filepath.Join(c.DataDir, "action-queue.json") }

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envUint32(name string, dst *uint32) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envMillis(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
