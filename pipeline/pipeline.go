// Package pipeline sequences preprocessing, classification and decision
// making into a single ReasoningResult per signal.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/signalmesh/signalmesh/classify"
	"github.com/signalmesh/signalmesh/decide"
	"github.com/signalmesh/signalmesh/preprocess"
	"github.com/signalmesh/signalmesh/signal"
)

// reviewConfidenceFloor matches the decision maker's approval floor.
const reviewConfidenceFloor = 0.7

// Pipeline runs a signal through all reasoning stages.
type Pipeline struct {
	preprocessor *preprocess.Preprocessor
	classifier   *classify.Classifier
	decider      *decide.Maker
	trusted      []string
	reviewFloor  float64
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTrustedSenders marks senders whose spam-classified signals skip the
// mandatory review flag. Entries are glob patterns, so "*@acme.com"
// trusts a whole domain.
func WithTrustedSenders(senders []string) Option {
	return func(p *Pipeline) {
		p.trusted = append(p.trusted, senders...)
	}
}

// WithReviewConfidenceFloor overrides the confidence below which a
// decision is flagged for human review. Matches the decision maker's
// approval floor when both come from the same configuration.
func WithReviewConfidenceFloor(f float64) Option {
	return func(p *Pipeline) {
		if f > 0 {
			p.reviewFloor = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline over the three stage implementations.
func New(pre *preprocess.Preprocessor, cls *classify.Classifier, dec *decide.Maker, opts ...Option) *Pipeline {
	p := &Pipeline{
		preprocessor: pre,
		classifier:   cls,
		decider:      dec,
		reviewFloor:  reviewConfidenceFloor,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the three stages and assembles the result. Classification
// failure yields status failed with no decision; decision failure yields
// status partial with a safe ignore fallback that requires review.
func (p *Pipeline) Process(ctx context.Context, sig signal.Signal) *signal.ReasoningResult {
	start := time.Now()
	result := &signal.ReasoningResult{Signal: sig}
	timings := make(map[string]time.Duration, 3)

	stageStart := time.Now()
	result.Preprocessed = p.preprocessor.Process(&sig)
	result.PreprocessStage = signal.StageResult{Duration: time.Since(stageStart)}
	timings["preprocess"] = result.PreprocessStage.Duration

	stageStart = time.Now()
	clsResult, err := p.classifier.Classify(ctx, sig, result.Preprocessed)
	result.ClassificationStage = signal.StageResult{Duration: time.Since(stageStart)}
	timings["classification"] = result.ClassificationStage.Duration
	if err != nil {
		result.ClassificationStage.Error = err.Error()
		result.Metadata = p.metadata(result, timings, time.Since(start), signal.StatusFailed)
		p.logger.Error("Classification failed", "signal_id", sig.ID, "error", err)
		return result
	}
	result.Classification = &clsResult.Classification
	result.ClassificationStage.Cached = clsResult.Cached

	stageStart = time.Now()
	decision, err := p.decider.Decide(ctx, sig, result.Preprocessed, result.Classification)
	result.DecisionStage = signal.StageResult{Duration: time.Since(stageStart)}
	timings["decision"] = result.DecisionStage.Duration
	if err != nil {
		result.DecisionStage.Error = err.Error()
		result.Decision = fallbackDecision(sig, err)
		result.Metadata = p.metadata(result, timings, time.Since(start), signal.StatusPartial)
		p.logger.Warn("Decision failed, falling back to ignore", "signal_id", sig.ID, "error", err)
		return result
	}
	result.Decision = decision

	result.Metadata = p.metadata(result, timings, time.Since(start), signal.StatusSuccess)
	return result
}

// fallbackDecision is the safe decision attached on partial failure. It
// always requires review.
func fallbackDecision(sig signal.Signal, cause error) *signal.Decision {
	return &signal.Decision{
		DecisionID:       uuid.New().String(),
		SignalID:         sig.ID,
		Action:           signal.ActionIgnore,
		RequiresApproval: true,
		Reasoning:        "decision stage failed; holding for human review: " + cause.Error(),
		Confidence:       0,
		Timestamp:        time.Now(),
		Validation: signal.ValidationResult{
			Valid:    true,
			Warnings: []string{"decision_fallback"},
		},
	}
}

func (p *Pipeline) metadata(result *signal.ReasoningResult, timings map[string]time.Duration, total time.Duration, status signal.ResultStatus) signal.ResultMetadata {
	meta := signal.ResultMetadata{
		ProcessingTime: total,
		Status:         status,
		StageTimings:   timings,
		Cached:         result.ClassificationStage.Cached,
	}

	switch {
	case result.Decision != nil:
		meta.Confidence = result.Decision.Confidence
	case result.Classification != nil:
		meta.Confidence = result.Classification.Confidence
	}

	if result.Decision != nil {
		meta.WarningCount = len(result.Decision.Validation.Warnings)
		meta.RequiresHumanReview = result.Decision.RequiresApproval ||
			result.Decision.Confidence < p.reviewFloor
	}
	// Anything short of a clean run needs human eyes, decision or not.
	if status != signal.StatusSuccess {
		meta.RequiresHumanReview = true
	}
	if result.Classification != nil && result.Classification.Category == signal.CategorySpam {
		if !p.isTrusted(result.Signal.Sender) {
			meta.RequiresHumanReview = true
		}
	}
	return meta
}

func (p *Pipeline) isTrusted(sender string) bool {
	for _, pattern := range p.trusted {
		if ok, err := doublestar.Match(pattern, sender); err == nil && ok {
			return true
		}
	}
	return false
}
