package publish

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalmesh/signalmesh/hub"
	"github.com/signalmesh/signalmesh/review"
	"github.com/signalmesh/signalmesh/signal"
)

// eventSink captures emitted events, optionally failing the first n emits.
type eventSink struct {
	events   []hub.Event
	failNext int
}

func (s *eventSink) emit(e hub.Event) error {
	if s.failNext > 0 {
		s.failNext--
		return errors.New("bus unavailable")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) byType(t string) []hub.Event {
	var out []hub.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func readyResult(confidence float64, urgency signal.Urgency) *signal.ReasoningResult {
	sig := signal.NewSignal(signal.SourceEmail, "subject", "body", "cfo@acme.com")
	return &signal.ReasoningResult{
		Signal: sig,
		Classification: &signal.Classification{
			Urgency: urgency, Importance: signal.ImportanceMedium,
			Category: signal.CategoryTask, Confidence: confidence,
			Reasoning: "routine task request",
		},
		Decision: &signal.Decision{
			DecisionID: "d1", SignalID: sig.ID,
			Action:     signal.ActionCreateTask,
			Params:     signal.ActionParams{CreateTask: &signal.CreateTaskParams{Platform: "notion", Title: "t"}},
			Confidence: confidence,
			Reasoning:  "create the task as asked",
			Validation: signal.ValidationResult{Valid: true},
		},
		Metadata: signal.ResultMetadata{Confidence: confidence, Status: signal.StatusSuccess},
	}
}

func TestPublishEmitsReadyAction(t *testing.T) {
	sink := &eventSink{}
	p := New(nil, nil, WithEmitFunc(sink.emit))

	p.Publish(readyResult(0.9, signal.UrgencyHigh))

	ready := sink.byType(hub.EventActionReady)
	require.Len(t, ready, 1)
	payload, ok := ready[0].Data.(ActionReadyPayload)
	require.True(t, ok)
	assert.Equal(t, signal.ActionCreateTask, payload.Action.ActionType)
	assert.Equal(t, "notion", payload.Action.Platform)
	assert.Equal(t, hub.PriorityHigh, payload.Action.Priority, "high urgency maps to high priority")
	assert.Equal(t, payload.Result.Signal.ID, payload.Action.CorrelationID)

	audit := p.Audit(AuditFilter{Kind: AuditPublished})
	assert.Len(t, audit, 1)
}

func TestPublishRejectsResultWithoutDecision(t *testing.T) {
	sink := &eventSink{}
	p := New(nil, nil, WithEmitFunc(sink.emit))

	result := readyResult(0.9, signal.UrgencyLow)
	result.Decision = nil
	p.Publish(result)

	assert.Len(t, sink.byType(hub.EventActionRejected), 1)
	assert.Empty(t, sink.byType(hub.EventActionReady))

	audit := p.Audit(AuditFilter{Kind: AuditRejected})
	require.Len(t, audit, 1)
	assert.Equal(t, "no decision present", audit[0].Detail)
}

func TestPublishRoutesApprovalNeedingDecisionToReview(t *testing.T) {
	reviews, err := review.New("")
	require.NoError(t, err)

	sink := &eventSink{}
	p := New(nil, reviews, WithEmitFunc(sink.emit))

	result := readyResult(0.6, signal.UrgencyMedium)
	result.Decision.RequiresApproval = true
	p.Publish(result)

	assert.Empty(t, sink.byType(hub.EventActionReady))
	require.Len(t, sink.byType(hub.EventReviewPending), 1)

	queue := reviews.GetQueue(review.QueueFilter{Status: review.StatusPending})
	require.Len(t, queue, 1)
	assert.Contains(t, queue[0].Reasons, review.ReasonLowConfidence)

	audit := p.Audit(AuditFilter{Kind: AuditPendingApproval})
	assert.Len(t, audit, 1)
}

func TestPublishWithoutReviewQueueRejects(t *testing.T) {
	sink := &eventSink{}
	p := New(nil, nil, WithEmitFunc(sink.emit))

	result := readyResult(0.9, signal.UrgencyMedium)
	result.Decision.RequiresApproval = true
	p.Publish(result)

	assert.Len(t, sink.byType(hub.EventActionRejected), 1)
}

func TestPublishApprovedEmitsAndAudits(t *testing.T) {
	sink := &eventSink{}
	p := New(nil, nil, WithEmitFunc(sink.emit))

	result := readyResult(0.6, signal.UrgencyMedium)
	p.PublishApproved(&review.Item{
		ReviewID:        "r1",
		SignalID:        result.Signal.ID,
		Reviewer:        "ops@acme.com",
		ReasoningResult: result,
	})

	assert.Len(t, sink.byType(hub.EventActionReady), 1)
	audit := p.Audit(AuditFilter{Kind: AuditApproved})
	require.Len(t, audit, 1)
	assert.Contains(t, audit[0].Detail, "ops@acme.com")
}

func TestEmitFailureQueuesAndRetries(t *testing.T) {
	sink := &eventSink{failNext: 1}
	p := New(nil, nil, WithEmitFunc(sink.emit))

	p.Publish(readyResult(0.9, signal.UrgencyMedium))
	assert.Empty(t, sink.byType(hub.EventActionReady))

	p.retryPending()
	assert.Len(t, sink.byType(hub.EventActionReady), 1)

	audit := p.Audit(AuditFilter{Kind: AuditRetried})
	assert.Len(t, audit, 1)
}

func TestRetryExhaustionRecordsFailure(t *testing.T) {
	sink := &eventSink{failNext: 10}
	p := New(nil, nil, WithEmitFunc(sink.emit), WithMaxRetryAttempts(1))

	p.Publish(readyResult(0.9, signal.UrgencyMedium))
	p.retryPending() // attempt 1 fails, requeued
	p.retryPending() // past the cap, dropped

	assert.Empty(t, sink.byType(hub.EventActionReady))
	audit := p.Audit(AuditFilter{Kind: AuditFailed})
	require.Len(t, audit, 1)
	assert.Contains(t, audit[0].Detail, "exhausted")
}

func TestAuditLogIsBounded(t *testing.T) {
	sink := &eventSink{}
	p := New(nil, nil, WithEmitFunc(sink.emit), WithAuditLogSize(3))

	for i := 0; i < 5; i++ {
		p.Publish(readyResult(0.9, signal.UrgencyMedium))
	}
	assert.Len(t, p.Audit(AuditFilter{}), 3)
}

func TestValidateResult(t *testing.T) {
	good := readyResult(0.9, signal.UrgencyMedium)
	assert.True(t, validateResult(good).Valid)

	noID := readyResult(0.9, signal.UrgencyMedium)
	noID.Signal.ID = ""
	v := validateResult(noID)
	assert.False(t, v.Valid)
	assert.Contains(t, v.MissingFields, "signal.id")

	badConfidence := readyResult(0.9, signal.UrgencyMedium)
	badConfidence.Decision.Confidence = 1.5
	assert.False(t, validateResult(badConfidence).Valid)

	bare := readyResult(0.9, signal.UrgencyMedium)
	bare.Decision.Params = signal.ActionParams{}
	v = validateResult(bare)
	assert.True(t, v.Valid)
	assert.Contains(t, v.Warnings, "action carries no parameters")
}
