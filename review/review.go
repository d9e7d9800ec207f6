// Package review queues decisions needing human approval, with
// risk-tiered auto-expiration, a periodic sweeper, durable snapshots, and
// outcome auditing.
package review

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalmesh/signalmesh/signal"
	"github.com/signalmesh/signalmesh/storage"
)

// Status is a review item's lifecycle state. Transitions move away from
// pending and never back.
type Status string

// Review statuses.
const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusAutoApproved Status = "auto_approved"
	StatusAutoRejected Status = "auto_rejected"
)

// Reason is why an item was queued.
type Reason string

// Review reasons.
const (
	ReasonLowConfidence           Reason = "low_confidence"
	ReasonHighImpact              Reason = "high_impact"
	ReasonPolicyViolation         Reason = "policy_violation"
	ReasonConflictingClassification Reason = "conflicting_classification"
	ReasonLargeScope              Reason = "large_scope"
	ReasonUnknownSender           Reason = "unknown_sender"
	ReasonManualHold              Reason = "manual_hold"
)

// RiskLevel orders items in the queue and selects the expiry tier.
type RiskLevel string

// Risk levels, highest first.
const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

func riskRank(r RiskLevel) int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	}
	return 0
}

// DefaultExpiryTiers is the auto-expiry window per risk level. Critical
// items never expire.
func DefaultExpiryTiers() map[RiskLevel]time.Duration {
	return map[RiskLevel]time.Duration{
		RiskLow:    time.Hour,
		RiskMedium: 4 * time.Hour,
		RiskHigh:   24 * time.Hour,
	}
}

// SweepInterval is the auto-expiration cadence.
const SweepInterval = 5 * time.Minute

// snapshotVersion tags the on-disk review queue format.
const snapshotVersion = 1

// snapshot is the on-disk review queue format.
type snapshot struct {
	Items     map[string]*Item `json:"items"`
	LastSaved time.Time        `json:"last_saved"`
	Version   int              `json:"version"`
}

// Item is one queued review.
type Item struct {
	ReviewID        string                  `json:"review_id"`
	SignalID        string                  `json:"signal_id"`
	Status          Status                  `json:"status"`
	Reasons         []Reason                `json:"reasons"`
	RiskLevel       RiskLevel               `json:"risk_level"`
	ReasoningResult *signal.ReasoningResult `json:"reasoning_result"`
	OriginalDecision *signal.Decision       `json:"original_decision"`
	QueuedAt        time.Time               `json:"queued_at"`
	ExpiresAt       *time.Time              `json:"expires_at,omitempty"`
	ReviewedAt      *time.Time              `json:"reviewed_at,omitempty"`
	Reviewer        string                  `json:"reviewer,omitempty"`
	Modifications   map[string]string       `json:"modifications,omitempty"`
	RejectionReason string                  `json:"rejection_reason,omitempty"`
	// Overdue marks a high-risk item that outlived its expiry without
	// being time-sensitive enough to auto-reject. It stays pending for
	// manual escalation.
	Overdue bool `json:"overdue,omitempty"`
}

// SweepResult reports one auto-expiration pass.
type SweepResult struct {
	AutoApproved []*Item
	AutoRejected []*Item
	Overdue      []*Item
}

// OnApproved is called exactly once whenever an item reaches approved or
// auto_approved, so the publisher can emit the action downstream.
type OnApproved func(item *Item)

// Manager owns the review queue.
type Manager struct {
	mu         sync.Mutex
	items      map[string]*Item
	storePath  string
	autoExpire bool
	expiry     map[RiskLevel]time.Duration
	onApproved OnApproved
	logger     *slog.Logger
	now        func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithAutoExpire toggles auto-expiration. Enabled by default.
func WithAutoExpire(enabled bool) Option {
	return func(m *Manager) { m.autoExpire = enabled }
}

// WithExpiryTiers overrides the per-risk auto-expiry windows. Critical
// never expires regardless.
func WithExpiryTiers(tiers map[RiskLevel]time.Duration) Option {
	return func(m *Manager) { m.expiry = tiers }
}

// WithOnApproved sets the approval callback.
func WithOnApproved(fn OnApproved) Option {
	return func(m *Manager) { m.onApproved = fn }
}

// SetOnApproved sets the approval callback after construction. The
// publisher and the review manager reference each other, so one side has
// to be wired late.
func (m *Manager) SetOnApproved(fn OnApproved) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onApproved = fn
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager, restoring any persisted queue from storePath.
func New(storePath string, opts ...Option) (*Manager, error) {
	m := &Manager{
		items:      make(map[string]*Item),
		storePath:  storePath,
		autoExpire: true,
		expiry:     DefaultExpiryTiers(),
		logger:     slog.Default(),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if storePath != "" {
		var snap snapshot
		found, err := storage.LoadJSON(storePath, &snap)
		if err != nil {
			return nil, fmt.Errorf("load review queue: %w", err)
		}
		if found && snap.Items != nil {
			m.items = snap.Items
			m.logger.Info("Review queue restored", "items", len(snap.Items))
		}
	}
	return m, nil
}

// Start launches the periodic expiration sweeper.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.AutoExpire()
			}
		}
	}()
}

// Stop halts the sweeper and flushes the queue.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistLocked()
}

// QueueForReview adds a reasoning result to the queue. When riskLevel is
// empty it is derived from the reasons and decision confidence.
func (m *Manager) QueueForReview(result *signal.ReasoningResult, reasons []Reason, riskLevel RiskLevel) *Item {
	if riskLevel == "" {
		riskLevel = deriveRisk(reasons, result)
	}

	now := m.now()
	item := &Item{
		ReviewID:        uuid.New().String(),
		SignalID:        result.Signal.ID,
		Status:          StatusPending,
		Reasons:         reasons,
		RiskLevel:       riskLevel,
		ReasoningResult: result,
		QueuedAt:        now,
	}
	if result.Decision != nil {
		copied := *result.Decision
		item.OriginalDecision = &copied
	}
	if m.autoExpire {
		if ttl, ok := m.expiry[riskLevel]; ok {
			expires := now.Add(ttl)
			item.ExpiresAt = &expires
		}
	}

	m.mu.Lock()
	m.items[item.ReviewID] = item
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("Decision queued for review",
		"review_id", item.ReviewID, "signal_id", item.SignalID,
		"risk", string(riskLevel), "reasons", reasonStrings(reasons))
	return item
}

// deriveRisk computes the risk tier from reasons and confidence.
func deriveRisk(reasons []Reason, result *signal.ReasoningResult) RiskLevel {
	confidence := result.Metadata.Confidence

	if hasReason(reasons, ReasonHighImpact) || hasReason(reasons, ReasonPolicyViolation) {
		return RiskCritical
	}
	if hasReason(reasons, ReasonConflictingClassification) || hasReason(reasons, ReasonLargeScope) || confidence < 0.5 {
		return RiskHigh
	}
	if hasReason(reasons, ReasonLowConfidence) || hasReason(reasons, ReasonUnknownSender) || confidence < 0.7 {
		return RiskMedium
	}
	return RiskLow
}

func hasReason(reasons []Reason, want Reason) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

// Approve resolves an item as approved and fires the approval callback.
func (m *Manager) Approve(reviewID, approver string, modifications map[string]string) (*Item, error) {
	item, err := m.resolve(reviewID, StatusApproved, func(item *Item) {
		item.Reviewer = approver
		item.Modifications = modifications
	})
	if err != nil {
		return nil, err
	}
	if m.onApproved != nil {
		m.onApproved(item)
	}
	return item, nil
}

// Reject resolves an item as rejected.
func (m *Manager) Reject(reviewID, reviewer, reason string) (*Item, error) {
	return m.resolve(reviewID, StatusRejected, func(item *Item) {
		item.Reviewer = reviewer
		item.RejectionReason = reason
	})
}

func (m *Manager) resolve(reviewID string, status Status, mutate func(*Item)) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[reviewID]
	if !ok {
		return nil, fmt.Errorf("review %s not found", reviewID)
	}
	if item.Status != StatusPending {
		return nil, fmt.Errorf("review %s already %s", reviewID, item.Status)
	}

	item.Status = status
	now := m.now()
	item.ReviewedAt = &now
	mutate(item)
	m.persistLocked()

	m.logger.Info("Review resolved", "review_id", reviewID, "status", string(status))
	return item, nil
}

// AutoExpire processes pending items past their expiry:
// low/medium auto-approve (and publish via the callback), high
// auto-rejects only when time-sensitive and otherwise stays pending
// marked overdue, critical never transitions.
func (m *Manager) AutoExpire() SweepResult {
	var result SweepResult
	var toApprove []*Item

	m.mu.Lock()
	now := m.now()
	changed := false
	for _, item := range m.items {
		if item.Status != StatusPending || item.ExpiresAt == nil || now.Before(*item.ExpiresAt) {
			continue
		}
		switch item.RiskLevel {
		case RiskLow, RiskMedium:
			item.Status = StatusAutoApproved
			item.ReviewedAt = &now
			result.AutoApproved = append(result.AutoApproved, item)
			toApprove = append(toApprove, item)
			changed = true
		case RiskHigh:
			if isTimeSensitive(item) {
				item.Status = StatusAutoRejected
				item.ReviewedAt = &now
				item.RejectionReason = "expired while time-sensitive"
				result.AutoRejected = append(result.AutoRejected, item)
				changed = true
			} else if !item.Overdue {
				item.Overdue = true
				result.Overdue = append(result.Overdue, item)
				changed = true
			}
		}
	}
	if changed {
		m.persistLocked()
	}
	m.mu.Unlock()

	for _, item := range toApprove {
		if m.onApproved != nil {
			m.onApproved(item)
		}
	}

	if len(result.AutoApproved)+len(result.AutoRejected)+len(result.Overdue) > 0 {
		m.logger.Info("Review sweep completed",
			"auto_approved", len(result.AutoApproved),
			"auto_rejected", len(result.AutoRejected),
			"overdue", len(result.Overdue))
	}
	return result
}

// isTimeSensitive reports whether an expired high-risk item should be
// rejected rather than linger.
func isTimeSensitive(item *Item) bool {
	result := item.ReasoningResult
	if result == nil {
		return false
	}
	if cls := result.Classification; cls != nil {
		if cls.Urgency == signal.UrgencyCritical || cls.RequiresImmediate {
			return true
		}
	}
	if dec := result.Decision; dec != nil {
		if dec.Action == signal.ActionEscalate {
			return true
		}
		if dec.Params.CreateTask != nil && dec.Params.CreateTask.DueDate != nil {
			return true
		}
	}
	body := strings.ToLower(result.Signal.Body)
	for _, cue := range []string{"asap", "urgent", "deadline", "immediate", "time-sensitive"} {
		if strings.Contains(body, cue) {
			return true
		}
	}
	return false
}

// QueueFilter selects items for GetQueue. Zero values match everything.
type QueueFilter struct {
	Status Status
	Risk   RiskLevel
	Source signal.Source
}

// GetQueue returns matching items ordered by risk descending, then oldest
// first.
func (m *Manager) GetQueue(filter QueueFilter) []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Item
	for _, item := range m.items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Risk != "" && item.RiskLevel != filter.Risk {
			continue
		}
		if filter.Source != "" && item.ReasoningResult != nil && item.ReasoningResult.Signal.Source != filter.Source {
			continue
		}
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := riskRank(out[i].RiskLevel), riskRank(out[j].RiskLevel)
		if ri != rj {
			return ri > rj
		}
		return out[i].QueuedAt.Before(out[j].QueuedAt)
	})
	return out
}

// Get returns one item by ID.
func (m *Manager) Get(reviewID string) (*Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[reviewID]
	return item, ok
}

// persistLocked snapshots the whole queue. Memory stays authoritative
// when the write fails.
func (m *Manager) persistLocked() {
	if m.storePath == "" {
		return
	}
	snap := snapshot{Items: m.items, LastSaved: m.now(), Version: snapshotVersion}
	if err := storage.SaveJSON(m.storePath, snap); err != nil {
		m.logger.Error("Failed to persist review queue", "error", err)
	}
}

func reasonStrings(reasons []Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}
