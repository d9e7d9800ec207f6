// Package publish gates reasoning results into execution: it validates
// them, routes approval-needing decisions to the review queue, and emits
// ready actions on the event hub with retry and an audit trail.
package publish

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalmesh/signalmesh/hub"
	"github.com/signalmesh/signalmesh/review"
	"github.com/signalmesh/signalmesh/signal"
)

// RetryPolicy is carried inside a FormattedAction so the executor knows
// the retry contract.
type RetryPolicy struct {
	MaxAttempts int `json:"max_attempts"`
	BackoffMs   int `json:"backoff_ms"`
}

// ActionContext carries provenance alongside a formatted action.
type ActionContext struct {
	SignalID   string        `json:"signal_id"`
	Source     signal.Source `json:"source"`
	Urgency    string        `json:"urgency,omitempty"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning,omitempty"`
}

// FormattedAction is the executor-facing payload emitted on action:ready.
type FormattedAction struct {
	ActionID      string              `json:"action_id"`
	ActionType    signal.Action       `json:"action_type"`
	Platform      string              `json:"platform"`
	Parameters    signal.ActionParams `json:"parameters"`
	Context       ActionContext       `json:"context"`
	Priority      hub.Priority        `json:"priority"`
	CorrelationID string              `json:"correlation_id"`
	RetryPolicy   RetryPolicy         `json:"retry_policy"`
}

// ActionReadyPayload is the data carried on an action:ready event: the
// executor-facing action plus the reasoning result it came from.
type ActionReadyPayload struct {
	Action *FormattedAction        `json:"action"`
	Result *signal.ReasoningResult `json:"result"`
}

// Default publication retry settings.
const (
	DefaultRetryInterval    = 5 * time.Second
	DefaultMaxRetryAttempts = 3
)

// Publisher bridges reasoning output to the executor.
type Publisher struct {
	reviews *review.Manager
	logger  *slog.Logger

	retryInterval time.Duration
	maxRetries    int

	// emit is the bus seam; it fails only on transient bus faults.
	emit func(hub.Event) error

	audit *auditLog

	mu      sync.Mutex
	pending []*retryEntry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type retryEntry struct {
	action   *FormattedAction
	result   *signal.ReasoningResult
	attempts int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRetryInterval overrides the publication retry cadence.
func WithRetryInterval(d time.Duration) Option {
	return func(p *Publisher) { p.retryInterval = d }
}

// WithMaxRetryAttempts overrides the publication retry cap.
func WithMaxRetryAttempts(n int) Option {
	return func(p *Publisher) { p.maxRetries = n }
}

// WithAuditLogSize overrides the audit log cap.
func WithAuditLogSize(n int) Option {
	return func(p *Publisher) { p.audit = newAuditLog(n) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithEmitFunc overrides the bus seam. Used by tests to inject faults.
func WithEmitFunc(fn func(hub.Event) error) Option {
	return func(p *Publisher) { p.emit = fn }
}

// New creates a Publisher. reviews may be nil when approval routing is
// handled elsewhere; approval-needing results are then rejected.
func New(eventHub *hub.Hub, reviews *review.Manager, opts ...Option) *Publisher {
	p := &Publisher{
		reviews:       reviews,
		logger:        slog.Default(),
		retryInterval: DefaultRetryInterval,
		maxRetries:    DefaultMaxRetryAttempts,
		audit:         newAuditLog(defaultAuditLogSize),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.emit == nil {
		p.emit = func(e hub.Event) error {
			eventHub.Emit(e)
			return nil
		}
	}
	return p
}

// Start launches the publication retry loop.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.retryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.retryPending()
			}
		}
	}()
}

// Stop halts the retry loop.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Publish validates a reasoning result and routes it: invalid results are
// rejected, approval-needing decisions go to review, and the rest emit
// action:ready.
func (p *Publisher) Publish(result *signal.ReasoningResult) {
	validation := validateResult(result)
	if !validation.Valid {
		p.emitRejected(result, validation)
		return
	}

	decision := result.Decision
	if decision.RequiresApproval || result.Metadata.RequiresHumanReview {
		p.routeToReview(result)
		return
	}

	action := formatAction(result)
	p.emitReady(action, result)
}

// PublishApproved emits the action for a review item that was approved.
// Wired as the review manager's approval callback.
func (p *Publisher) PublishApproved(item *review.Item) {
	if item.ReasoningResult == nil || item.ReasoningResult.Decision == nil {
		p.logger.Warn("Approved review carries no decision", "review_id", item.ReviewID)
		return
	}
	action := formatAction(item.ReasoningResult)
	p.audit.add(AuditEntry{
		Kind:     AuditApproved,
		ActionID: action.ActionID,
		SignalID: item.SignalID,
		Detail:   "approved by " + item.Reviewer,
		At:       time.Now(),
	})
	p.emitReady(action, item.ReasoningResult)
}

func (p *Publisher) routeToReview(result *signal.ReasoningResult) {
	if p.reviews == nil {
		p.emitRejected(result, signal.ValidationResult{
			Errors: []string{"approval required but no review queue configured"},
		})
		return
	}

	reasons := deriveReasons(result)
	item := p.reviews.QueueForReview(result, reasons, "")

	_ = p.emit(hub.Event{
		Source:   "publisher",
		Type:     hub.EventReviewPending,
		Priority: hub.PriorityHigh,
		Data: map[string]any{
			"review_id": item.ReviewID,
			"signal_id": item.SignalID,
			"risk":      string(item.RiskLevel),
		},
	})
	p.audit.add(AuditEntry{
		Kind:     AuditPendingApproval,
		SignalID: result.Signal.ID,
		Source:   result.Signal.Source,
		Detail:   string(item.RiskLevel),
		At:       time.Now(),
	})
}

func (p *Publisher) emitReady(action *FormattedAction, result *signal.ReasoningResult) {
	err := p.emit(hub.Event{
		Source:   "publisher",
		Type:     hub.EventActionReady,
		Priority: action.Priority,
		Data:     ActionReadyPayload{Action: action, Result: result},
	})
	if err != nil {
		p.logger.Warn("Publication failed, queuing for retry",
			"action_id", action.ActionID, "error", err)
		p.mu.Lock()
		p.pending = append(p.pending, &retryEntry{action: action, result: result})
		p.mu.Unlock()
		return
	}

	p.audit.add(AuditEntry{
		Kind:     AuditPublished,
		ActionID: action.ActionID,
		SignalID: action.Context.SignalID,
		Source:   action.Context.Source,
		At:       time.Now(),
	})
}

func (p *Publisher) emitRejected(result *signal.ReasoningResult, validation signal.ValidationResult) {
	_ = p.emit(hub.Event{
		Source:   "publisher",
		Type:     hub.EventActionRejected,
		Priority: hub.PriorityNormal,
		Data: map[string]any{
			"signal_id":  result.Signal.ID,
			"validation": validation,
		},
	})
	p.audit.add(AuditEntry{
		Kind:     AuditRejected,
		SignalID: result.Signal.ID,
		Source:   result.Signal.Source,
		Detail:   firstOr(validation.Errors, "invalid"),
		At:       time.Now(),
	})
	p.logger.Warn("Reasoning result rejected",
		"signal_id", result.Signal.ID, "errors", validation.Errors)
}

// retryPending re-emits actions whose earlier publication failed. Actions
// exceeding the retry cap record a terminal audit entry.
func (p *Publisher) retryPending() {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, entry := range pending {
		entry.attempts++
		if entry.attempts > p.maxRetries {
			p.audit.add(AuditEntry{
				Kind:     AuditFailed,
				ActionID: entry.action.ActionID,
				SignalID: entry.action.Context.SignalID,
				Detail:   "publication retries exhausted",
				At:       time.Now(),
			})
			p.logger.Error("Publication retries exhausted", "action_id", entry.action.ActionID)
			continue
		}

		err := p.emit(hub.Event{
			Source:   "publisher",
			Type:     hub.EventActionReady,
			Priority: entry.action.Priority,
			Data:     ActionReadyPayload{Action: entry.action, Result: entry.result},
		})
		if err != nil {
			p.mu.Lock()
			p.pending = append(p.pending, entry)
			p.mu.Unlock()
			continue
		}
		p.audit.add(AuditEntry{
			Kind:     AuditRetried,
			ActionID: entry.action.ActionID,
			SignalID: entry.action.Context.SignalID,
			At:       time.Now(),
		})
	}
}

// formatAction builds the executor payload from a validated result.
func formatAction(result *signal.ReasoningResult) *FormattedAction {
	decision := result.Decision
	action := &FormattedAction{
		ActionID:      uuid.New().String(),
		ActionType:    decision.Action,
		Platform:      decision.Params.Platform(),
		Parameters:    decision.Params,
		CorrelationID: result.Signal.ID,
		Priority:      hub.PriorityNormal,
		Context: ActionContext{
			SignalID:   result.Signal.ID,
			Source:     result.Signal.Source,
			Confidence: decision.Confidence,
			Reasoning:  decision.Reasoning,
		},
		RetryPolicy: RetryPolicy{MaxAttempts: 3, BackoffMs: 1000},
	}
	if cls := result.Classification; cls != nil {
		action.Context.Urgency = string(cls.Urgency)
		action.Priority = priorityFor(cls.Urgency)
	}
	return action
}

// priorityFor maps classification urgency onto event priority.
func priorityFor(u signal.Urgency) hub.Priority {
	switch u {
	case signal.UrgencyCritical, signal.UrgencyHigh:
		return hub.PriorityHigh
	case signal.UrgencyLow:
		return hub.PriorityLow
	}
	return hub.PriorityNormal
}

// deriveReasons translates result state into review reasons.
func deriveReasons(result *signal.ReasoningResult) []review.Reason {
	var reasons []review.Reason
	decision := result.Decision

	if decision.Confidence < 0.7 {
		reasons = append(reasons, review.ReasonLowConfidence)
	}
	if len(decision.Validation.Blockers) > 0 {
		reasons = append(reasons, review.ReasonPolicyViolation)
	}
	for _, w := range decision.Validation.Warnings {
		if w == "high_impact" {
			reasons = append(reasons, review.ReasonHighImpact)
		}
	}
	if result.Signal.Sender == "" {
		reasons = append(reasons, review.ReasonUnknownSender)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, review.ReasonManualHold)
	}
	return reasons
}

// validateResult checks the contract the executor relies on.
func validateResult(result *signal.ReasoningResult) signal.ValidationResult {
	v := signal.ValidationResult{Valid: true}

	if result.Signal.ID == "" {
		v.Valid = false
		v.MissingFields = append(v.MissingFields, "signal.id")
	}
	if result.Decision == nil {
		v.Valid = false
		v.Errors = append(v.Errors, "no decision present")
		return v
	}

	decision := result.Decision
	if !decision.Action.Valid() {
		v.Valid = false
		v.Errors = append(v.Errors, "unknown action "+string(decision.Action))
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		v.Valid = false
		v.Errors = append(v.Errors, "confidence out of range")
	}
	if decision.Action != signal.ActionIgnore && decision.Params.IsEmpty() {
		v.Warnings = append(v.Warnings, "action carries no parameters")
	}
	return v
}

func firstOr(items []string, fallback string) string {
	if len(items) > 0 {
		return items[0]
	}
	return fallback
}
