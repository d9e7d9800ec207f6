// Package cache deduplicates LLM requests by semantic fingerprint.
// Entries carry a TTL by response type, can be invalidated by user
// feedback or by source, and hot entries survive restarts through a JSON
// snapshot.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ResponseType selects the TTL tier for an entry.
type ResponseType string

// Response types.
const (
	TypeClassification ResponseType = "classification"
	TypeDecision       ResponseType = "decision"
	TypeOther          ResponseType = "other"
)

// Feedback marks an entry's observed correctness.
type Feedback string

// Feedback outcomes.
const (
	FeedbackUnset     Feedback = ""
	FeedbackCorrect   Feedback = "correct"
	FeedbackIncorrect Feedback = "incorrect"
)

// TTL tiers per response type.
const (
	ClassificationTTL = time.Hour
	DecisionTTL       = 30 * time.Minute
	DefaultTTL        = 15 * time.Minute
)

// hotThreshold is the hit count at which an entry qualifies for
// persistence.
const hotThreshold = 5

// Key identifies a cached request. Temperature is rounded to three
// decimals before hashing so float noise does not split entries.
type Key struct {
	Prompt      string
	Model       string
	Temperature float64
	Extra       string
}

// Fingerprint returns the stable hash of the key components.
func (k Key) Fingerprint() string {
	prompt := normalizePrompt(k.Prompt)
	payload := fmt.Sprintf("%s|%s|%.3f|%s", prompt, k.Model, k.Temperature, k.Extra)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// normalizePrompt collapses whitespace runs and trims so that formatting
// differences do not defeat deduplication.
func normalizePrompt(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Entry is one cached response.
type Entry struct {
	Fingerprint     string       `json:"fingerprint"`
	Payload         string       `json:"payload"`
	CreatedAt       time.Time    `json:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
	HitCount        int          `json:"hit_count"`
	LastHitAt       time.Time    `json:"last_hit_at,omitempty"`
	ResponseType    ResponseType `json:"response_type"`
	Source          string       `json:"source,omitempty"`
	Feedback        Feedback     `json:"feedback,omitempty"`
	PromptTokens    int          `json:"prompt_tokens,omitempty"`
	CompletionTokens int         `json:"completion_tokens,omitempty"`
}

// Attributes carries optional metadata attached at put time.
type Attributes struct {
	Source           string
	PromptTokens     int
	CompletionTokens int
}

// Stats is a point-in-time cache summary.
type Stats struct {
	Entries          int     `json:"entries"`
	Hits             int     `json:"hits"`
	Misses           int     `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
	HotEntries       int     `json:"hot_entries"`
	EstimatedTokensSaved int `json:"estimated_tokens_saved"`
	EstimatedCostSaved   float64 `json:"estimated_cost_saved"`
}

// CostEstimator prices saved tokens for stats. Optional.
type CostEstimator func(promptTokens, completionTokens int) float64

// Cache is the response cache. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	ttls       map[ResponseType]time.Duration
	defaultTTL time.Duration
	hits       int
	misses     int
	tokensSaved int
	costSaved  float64
	estimate   CostEstimator
	storePath  string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL overrides the TTL used for TypeOther entries.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = ttl }
}

// WithTTL overrides the TTL tier for one response type.
func WithTTL(t ResponseType, ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttls[t] = ttl
		}
	}
}

// WithCostEstimator sets the pricing function used by Stats.
func WithCostEstimator(fn CostEstimator) Option {
	return func(c *Cache) { c.estimate = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache. storePath is where Save/Load persist hot
// entries; empty disables persistence.
func New(storePath string, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*Entry),
		ttls: map[ResponseType]time.Duration{
			TypeClassification: ClassificationTTL,
			TypeDecision:       DecisionTTL,
		},
		defaultTTL: DefaultTTL,
		storePath:  storePath,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the payload for key if a live entry exists. Expired or
// feedback-invalidated entries count as misses.
func (c *Cache) Get(key Key) (string, bool) {
	fp := key.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fp]
	if !ok || !c.live(entry) {
		c.misses++
		missesTotal.Inc()
		return "", false
	}

	entry.HitCount++
	entry.LastHitAt = c.now()
	c.hits++
	c.tokensSaved += entry.PromptTokens + entry.CompletionTokens
	if c.estimate != nil {
		c.costSaved += c.estimate(entry.PromptTokens, entry.CompletionTokens)
	}
	hitsTotal.WithLabelValues(string(entry.ResponseType)).Inc()
	return entry.Payload, true
}

// Put stores payload under key with the TTL for responseType, or
// ttlOverride when positive.
func (c *Cache) Put(key Key, payload string, ttlOverride time.Duration, responseType ResponseType, attrs *Attributes) {
	ttl := c.ttlFor(responseType)
	if ttlOverride > 0 {
		ttl = ttlOverride
	}

	now := c.now()
	entry := &Entry{
		Fingerprint:  key.Fingerprint(),
		Payload:      payload,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		ResponseType: responseType,
	}
	if attrs != nil {
		entry.Source = attrs.Source
		entry.PromptTokens = attrs.PromptTokens
		entry.CompletionTokens = attrs.CompletionTokens
	}

	c.mu.Lock()
	c.entries[entry.Fingerprint] = entry
	c.mu.Unlock()
}

// MarkFeedback records correctness feedback. Incorrect invalidates the
// entry immediately; correct leaves retention unchanged.
func (c *Cache) MarkFeedback(key Key, outcome Feedback) {
	fp := key.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		return
	}
	entry.Feedback = outcome
	if outcome == FeedbackIncorrect {
		delete(c.entries, fp)
		invalidationsTotal.WithLabelValues("feedback").Inc()
	}
}

// InvalidateBySource removes every entry attributed to source and returns
// how many were removed.
func (c *Cache) InvalidateBySource(source string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, entry := range c.entries {
		if entry.Source == source {
			delete(c.entries, fp)
			removed++
		}
	}
	if removed > 0 {
		invalidationsTotal.WithLabelValues("source").Add(float64(removed))
	}
	return removed
}

// Prune drops expired entries. Called opportunistically; Get already
// treats expired entries as absent.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for fp, entry := range c.entries {
		if !c.live(entry) {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Stats returns a point-in-time summary.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hot := 0
	for _, entry := range c.entries {
		if entry.HitCount >= hotThreshold {
			hot++
		}
	}

	s := Stats{
		Entries:              len(c.entries),
		Hits:                 c.hits,
		Misses:               c.misses,
		HotEntries:           hot,
		EstimatedTokensSaved: c.tokensSaved,
		EstimatedCostSaved:   c.costSaved,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// live reports whether an entry is logically present.
func (c *Cache) live(entry *Entry) bool {
	if entry.Feedback == FeedbackIncorrect {
		return false
	}
	return c.now().Before(entry.ExpiresAt)
}

func (c *Cache) ttlFor(t ResponseType) time.Duration {
	if ttl, ok := c.ttls[t]; ok {
		return ttl
	}
	return c.defaultTTL
}
