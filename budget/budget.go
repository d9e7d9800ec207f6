// Package budget counts tokens and enforces a per-day token limit across
// LLM providers. Usage is tallied per provider per calendar day (local
// time) and persisted so restarts do not reset the meter.
package budget

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/signalmesh/signalmesh/llm"
	"github.com/signalmesh/signalmesh/model"
	"github.com/signalmesh/signalmesh/storage"
)

// DefaultDailyLimit is the default tokens-per-day ceiling.
const DefaultDailyLimit = 500_000

// warnThreshold is the fraction of the daily limit past which checks log
// a warning.
const warnThreshold = 0.8

// messageOverhead and primingOverhead approximate the chat-format framing
// tokens added around each message and at the end of the prompt.
const (
	messageOverhead = 4
	primingOverhead = 2
)

// ProviderUsage is one provider's tally for one day.
type ProviderUsage struct {
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Calls  int     `json:"calls"`
}

// DayRecord is the persisted usage for one calendar day.
type DayRecord struct {
	Date      string                   `json:"date"` // YYYY-MM-DD, local
	Providers map[string]ProviderUsage `json:"providers"`
	Total     int                      `json:"total"`
}

// Check is the outcome of a budget check.
type Check struct {
	Allowed         bool
	RemainingTokens int
	PercentUsed     float64
	EstimatedCost   float64
	Reason          string
}

// Tracker enforces the daily token budget.
type Tracker struct {
	mu         sync.Mutex
	dailyLimit int
	registry   *model.Registry
	storePath  string
	days       map[string]*DayRecord
	encoder    *tiktoken.Tiktoken
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDailyLimit overrides the default daily token limit.
func WithDailyLimit(limit int) Option {
	return func(t *Tracker) { t.dailyLimit = limit }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker, loading prior usage from storePath when present.
// The registry supplies per-provider pricing; it may be nil, in which case
// costs report as zero.
func New(storePath string, registry *model.Registry, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		dailyLimit: DefaultDailyLimit,
		registry:   registry,
		storePath:  storePath,
		days:       make(map[string]*DayRecord),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}

	if storePath != "" {
		var days map[string]*DayRecord
		found, err := storage.LoadJSON(storePath, &days)
		if err != nil {
			return nil, fmt.Errorf("load usage store: %w", err)
		}
		if found {
			t.days = days
		}
	}

	// Tokenizer load failure is survivable; counting degrades to the
	// byte-length estimate.
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		t.logger.Warn("Tokenizer unavailable, using length estimate", "error", err)
	} else {
		t.encoder = enc
	}
	return t, nil
}

// CountTokens counts tokens in text, falling back to ceil(len/4) when the
// tokenizer is unavailable.
func (t *Tracker) CountTokens(text string) int {
	if t.encoder != nil {
		return len(t.encoder.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// CountMessageTokens counts the tokens of a chat prompt including
// per-message framing and the reply priming overhead.
func (t *Tracker) CountMessageTokens(messages []llm.Message) int {
	total := primingOverhead
	for _, m := range messages {
		total += messageOverhead
		total += t.CountTokens(m.Role)
		total += t.CountTokens(m.Content)
	}
	return total
}

// CheckBudget reports whether a request of estimatedTokens may proceed.
// It rejects when today's usage already meets the limit or the request
// would exceed it, and warns when the request would push usage past 80%.
func (t *Tracker) CheckBudget(estimatedTokens int, provider string) Check {
	t.mu.Lock()
	defer t.mu.Unlock()

	day := t.today()
	used := day.Total
	remaining := t.dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}

	check := Check{
		RemainingTokens: remaining,
		PercentUsed:     float64(used) / float64(t.dailyLimit) * 100,
		EstimatedCost:   t.costFor(provider, estimatedTokens, 0),
	}

	switch {
	case used >= t.dailyLimit:
		check.Reason = fmt.Sprintf("daily token limit reached (%d/%d)", used, t.dailyLimit)
	case used+estimatedTokens > t.dailyLimit:
		check.Reason = fmt.Sprintf("request of %d tokens would exceed daily limit (%d/%d used)",
			estimatedTokens, used, t.dailyLimit)
	default:
		check.Allowed = true
	}

	if check.Allowed && float64(used+estimatedTokens) > float64(t.dailyLimit)*warnThreshold {
		t.logger.Warn("Token budget approaching daily limit",
			"used", used, "estimated", estimatedTokens,
			"limit", t.dailyLimit, "percent_used", fmt.Sprintf("%.1f", check.PercentUsed))
	}
	return check
}

// TrackUsage records tokens consumed by a provider and persists the tally.
func (t *Tracker) TrackUsage(tokens int, provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	day := t.today()
	usage := day.Providers[provider]
	usage.Tokens += tokens
	usage.Calls++
	usage.Cost = t.costFor(provider, usage.Tokens, 0)
	day.Providers[provider] = usage
	day.Total += tokens

	tokensUsed.WithLabelValues(provider).Add(float64(tokens))

	if t.storePath != "" {
		if err := storage.SaveJSON(t.storePath, t.days); err != nil {
			t.logger.Error("Failed to persist token usage", "error", err)
		}
	}
}

// Today returns a copy of the current day's record.
func (t *Tracker) Today() DayRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyDay(t.today())
}

// MonthToDate sums usage over the current calendar month.
func (t *Tracker) MonthToDate() (tokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := t.now().Format("2006-01")
	for date, rec := range t.days {
		if len(date) >= 7 && date[:7] == prefix {
			tokens += rec.Total
			for _, u := range rec.Providers {
				cost += u.Cost
			}
		}
	}
	return tokens, cost
}

// DailyLimit returns the configured limit.
func (t *Tracker) DailyLimit() int { return t.dailyLimit }

// today returns the mutable record for the current local date, starting a
// fresh one past midnight. Prior days stay in the store for rollups.
func (t *Tracker) today() *DayRecord {
	date := t.now().Format("2006-01-02")
	day, ok := t.days[date]
	if !ok {
		day = &DayRecord{Date: date, Providers: make(map[string]ProviderUsage)}
		t.days[date] = day
	}
	return day
}

func (t *Tracker) copyDay(day *DayRecord) DayRecord {
	out := DayRecord{Date: day.Date, Total: day.Total, Providers: make(map[string]ProviderUsage, len(day.Providers))}
	for k, v := range day.Providers {
		out.Providers[k] = v
	}
	return out
}

func (t *Tracker) costFor(provider string, promptTokens, completionTokens int) float64 {
	if t.registry == nil {
		return 0
	}
	return t.registry.CostFor(provider, promptTokens, completionTokens)
}
