// Package decide maps a classified signal to a validated action decision.
package decide

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/signalmesh/signalmesh/budget"
	"github.com/signalmesh/signalmesh/classify"
	"github.com/signalmesh/signalmesh/llm"
	"github.com/signalmesh/signalmesh/signal"
)

// ApprovalConfidenceFloor: decisions below this confidence always require
// human approval.
const ApprovalConfidenceFloor = 0.7

// LowConfidenceFloor: decisions below this additionally carry a
// low_confidence warning.
const LowConfidenceFloor = 0.5

// RejectConfidenceFloor: decisions below this are discarded outright and
// rewritten to ignore.
const RejectConfidenceFloor = 0.3

// Maker produces decisions.
type Maker struct {
	client           classify.ChatClient
	budget           *budget.Tracker
	model            string
	temperature      float64
	forbiddenTargets []string
	approvalFloor    float64
	warnFloor        float64
	rejectFloor      float64
	logger           *slog.Logger
}

// Option configures a Maker.
type Option func(*Maker)

// WithModel overrides the model requested from the gateway.
func WithModel(model string) Option {
	return func(m *Maker) { m.model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(m *Maker) { m.temperature = t }
}

// WithForbiddenTargets sets recipients, channels, and platforms that
// policy blocks outright. Entries are glob patterns, so "*@external.com"
// blocks a whole domain.
func WithForbiddenTargets(targets []string) Option {
	return func(m *Maker) {
		m.forbiddenTargets = append(m.forbiddenTargets, targets...)
	}
}

// WithConfidenceFloors overrides the confidence thresholds. Decisions
// below approve require approval and below warn carry a low_confidence
// warning; below reject the decision is rewritten to ignore. Zero values
// for approve and warn keep the defaults; a zero reject disables
// outright rejection.
func WithConfidenceFloors(approve, warn, reject float64) Option {
	return func(m *Maker) {
		if approve > 0 {
			m.approvalFloor = approve
		}
		if warn > 0 {
			m.warnFloor = warn
		}
		m.rejectFloor = reject
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Maker) { m.logger = l }
}

// New creates a Maker. tracker may be nil to disable budget accounting.
func New(client classify.ChatClient, tracker *budget.Tracker, opts ...Option) *Maker {
	m := &Maker{
		client:        client,
		budget:        tracker,
		temperature:   0.3,
		approvalFloor: ApprovalConfidenceFloor,
		warnFloor:     LowConfidenceFloor,
		rejectFloor:   RejectConfidenceFloor,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Decide produces a validated Decision for a classified signal.
func (m *Maker) Decide(ctx context.Context, sig signal.Signal, pre *signal.PreprocessedSignal, cls *signal.Classification) (*signal.Decision, error) {
	start := time.Now()

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildPrompt(sig, pre, cls)},
	}

	if m.budget != nil {
		estimated := m.budget.CountMessageTokens(messages)
		check := m.budget.CheckBudget(estimated, m.client.PrimaryProvider())
		if !check.Allowed {
			return nil, &classify.ErrBudgetExceeded{Reason: check.Reason}
		}
	}

	resp, err := m.client.Chat(ctx, messages, llm.Options{
		Model:          m.model,
		Temperature:    &m.temperature,
		ResponseFormat: llm.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("decision call: %w", err)
	}
	if m.budget != nil {
		m.budget.TrackUsage(resp.Usage.TotalTokens, resp.Provider)
	}

	decision, err := parseDecision(resp)
	if err != nil {
		return nil, err
	}

	decision.DecisionID = uuid.New().String()
	decision.SignalID = sig.ID
	decision.Timestamp = time.Now()

	m.applyRules(decision)
	decision.ProcessingTime = time.Since(start)
	return decision, nil
}

// applyRules computes the ValidationResult and approval flag from the
// policy rules. Called after schema validation passed.
func (m *Maker) applyRules(d *signal.Decision) {
	v := signal.ValidationResult{Valid: true}

	if isHighImpact(d) {
		d.RequiresApproval = true
		v.Warnings = append(v.Warnings, "high_impact")
	}
	if d.Confidence < m.approvalFloor {
		d.RequiresApproval = true
	}
	if d.Confidence < m.warnFloor {
		v.Warnings = append(v.Warnings, "low_confidence")
	}
	if d.Confidence < m.rejectFloor {
		v.Blockers = append(v.Blockers, fmt.Sprintf("confidence %.2f below reject threshold", d.Confidence))
		d.Action = signal.ActionIgnore
		d.Params = signal.ActionParams{}
		d.RequiresApproval = false
	}

	if target := forbiddenTarget(d, m.forbiddenTargets); target != "" {
		v.Blockers = append(v.Blockers, fmt.Sprintf("forbidden target: %s", target))
		d.Action = signal.ActionIgnore
		d.Params = signal.ActionParams{}
		d.Reasoning = "blocked by policy"
		d.RequiresApproval = false
	}

	d.Validation = v
}

// isHighImpact reports whether the decision touches money or routes work
// to someone new.
func isHighImpact(d *signal.Decision) bool {
	if d.Action == signal.ActionFileDocument && d.Params.FileDocument != nil && d.Params.FileDocument.ContainsFinancials {
		return true
	}
	if d.Action == signal.ActionDelegate && d.Params.Delegate != nil && d.Params.Delegate.NewRecipient {
		return true
	}
	return false
}

// forbiddenTarget returns the first policy-blocked target named by the
// decision's parameters, or "".
func forbiddenTarget(d *signal.Decision, forbidden []string) string {
	if len(forbidden) == 0 {
		return ""
	}
	candidates := []string{d.Params.Platform()}
	if p := d.Params.SendNotification; p != nil {
		candidates = append(candidates, p.Channel)
	}
	if p := d.Params.Delegate; p != nil {
		candidates = append(candidates, p.Recipient)
	}
	if p := d.Params.Escalate; p != nil {
		candidates = append(candidates, p.Target)
	}
	if p := d.Params.CreateTask; p != nil {
		candidates = append(candidates, p.Assignee)
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, pattern := range forbidden {
			if ok, err := doublestar.Match(pattern, c); err == nil && ok {
				return c
			}
		}
	}
	return ""
}

// parseDecision extracts and schema-validates a decision payload.
func parseDecision(resp *llm.ChatResponse) (*signal.Decision, error) {
	raw := resp.Content
	if resp.JSON != nil {
		data, err := json.Marshal(resp.JSON)
		if err != nil {
			return nil, fmt.Errorf("re-encode parsed response: %w", err)
		}
		raw = string(data)
	} else if extracted := llm.ExtractJSON(raw); extracted != "" {
		raw = extracted
	}

	var payload struct {
		Action     signal.Action       `json:"action"`
		Params     signal.ActionParams `json:"params"`
		Confidence float64             `json:"confidence"`
		Reasoning  string              `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decision is not valid JSON: %w", err)
	}

	if !payload.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", payload.Action)
	}
	if payload.Confidence < 0 || payload.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v out of [0,1]", payload.Confidence)
	}
	if n := len(payload.Reasoning); n < 10 || n > 500 {
		return nil, fmt.Errorf("reasoning length %d outside [10,500]", n)
	}
	if payload.Action == signal.ActionIgnore && !payload.Params.IsEmpty() {
		return nil, fmt.Errorf("ignore decision must carry no params")
	}

	return &signal.Decision{
		Action:     payload.Action,
		Params:     payload.Params,
		Confidence: payload.Confidence,
		Reasoning:  payload.Reasoning,
	}, nil
}
