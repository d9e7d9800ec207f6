package review

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalmesh/signalmesh/signal"
	"github.com/signalmesh/signalmesh/storage"
)

func newTestManager(t *testing.T, now *time.Time, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return *now })}, opts...)
	m, err := New("", opts...)
	require.NoError(t, err)
	return m
}

func resultWithConfidence(confidence float64) *signal.ReasoningResult {
	sig := signal.NewSignal(signal.SourceEmail, "subject", "body text", "sender@acme.com")
	return &signal.ReasoningResult{
		Signal: sig,
		Decision: &signal.Decision{
			DecisionID: "d-" + sig.ID,
			SignalID:   sig.ID,
			Action:     signal.ActionCreateTask,
			Confidence: confidence,
			Reasoning:  "queued for a second pair of eyes",
		},
		Metadata: signal.ResultMetadata{Confidence: confidence, Status: signal.StatusSuccess},
	}
}

func TestDeriveRiskFromReasonsAndConfidence(t *testing.T) {
	tests := []struct {
		name       string
		reasons    []Reason
		confidence float64
		want       RiskLevel
	}{
		{"high impact is critical", []Reason{ReasonHighImpact}, 0.95, RiskCritical},
		{"policy violation is critical", []Reason{ReasonPolicyViolation}, 0.95, RiskCritical},
		{"conflicting classification is high", []Reason{ReasonConflictingClassification}, 0.9, RiskHigh},
		{"very low confidence is high", nil, 0.3, RiskHigh},
		{"low confidence reason is medium", []Reason{ReasonLowConfidence}, 0.8, RiskMedium},
		{"middling confidence is medium", nil, 0.65, RiskMedium},
		{"confident and unremarkable is low", nil, 0.9, RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveRisk(tt.reasons, resultWithConfidence(tt.confidence)))
		})
	}
}

func TestQueueForReviewSetsExpiryByRisk(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	low := m.QueueForReview(resultWithConfidence(0.9), nil, RiskLow)
	require.NotNil(t, low.ExpiresAt)
	assert.Equal(t, now.Add(time.Hour), *low.ExpiresAt)

	critical := m.QueueForReview(resultWithConfidence(0.9), []Reason{ReasonHighImpact}, "")
	assert.Equal(t, RiskCritical, critical.RiskLevel)
	assert.Nil(t, critical.ExpiresAt, "critical items never expire")
}

func TestApproveFiresCallbackOnce(t *testing.T) {
	now := time.Now()
	var approvals []*Item
	m := newTestManager(t, &now, WithOnApproved(func(item *Item) {
		approvals = append(approvals, item)
	}))

	item := m.QueueForReview(resultWithConfidence(0.6), []Reason{ReasonLowConfidence}, "")
	approved, err := m.Approve(item.ReviewID, "ops@acme.com", map[string]string{"title": "tightened"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, "ops@acme.com", approved.Reviewer)
	require.Len(t, approvals, 1)

	// Resolving twice is an error and must not fire again.
	_, err = m.Approve(item.ReviewID, "ops@acme.com", nil)
	require.Error(t, err)
	assert.Len(t, approvals, 1)
}

func TestRejectRecordsReason(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	item := m.QueueForReview(resultWithConfidence(0.6), nil, RiskMedium)
	rejected, err := m.Reject(item.ReviewID, "lead@acme.com", "duplicate of an existing task")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "duplicate of an existing task", rejected.RejectionReason)

	_, err = m.Reject("no-such-id", "lead@acme.com", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAutoExpireApprovesLowAndMediumTiers(t *testing.T) {
	now := time.Now()
	var published []*Item
	m := newTestManager(t, &now, WithOnApproved(func(item *Item) {
		published = append(published, item)
	}))

	m.QueueForReview(resultWithConfidence(0.9), nil, RiskLow)
	m.QueueForReview(resultWithConfidence(0.65), nil, RiskMedium)

	now = now.Add(2 * time.Hour)
	sweep := m.AutoExpire()
	require.Len(t, sweep.AutoApproved, 1, "only the low tier has expired at 2h")
	assert.Len(t, published, 1)

	now = now.Add(3 * time.Hour) // 5h total, past the 4h medium tier
	sweep = m.AutoExpire()
	require.Len(t, sweep.AutoApproved, 1)
	assert.Len(t, published, 2)
}

func TestAutoExpireRejectsTimeSensitiveHighRisk(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	urgent := resultWithConfidence(0.4)
	urgent.Signal.Body = "please handle this ASAP before the deadline"
	m.QueueForReview(urgent, nil, RiskHigh)

	now = now.Add(25 * time.Hour)
	sweep := m.AutoExpire()
	require.Len(t, sweep.AutoRejected, 1)
	assert.Equal(t, StatusAutoRejected, sweep.AutoRejected[0].Status)
	assert.Contains(t, sweep.AutoRejected[0].RejectionReason, "time-sensitive")
}

func TestAutoExpireMarksPatientHighRiskOverdue(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	item := m.QueueForReview(resultWithConfidence(0.4), nil, RiskHigh)

	now = now.Add(25 * time.Hour)
	sweep := m.AutoExpire()
	require.Len(t, sweep.Overdue, 1)
	assert.Equal(t, StatusPending, item.Status, "overdue items stay pending for escalation")
	assert.True(t, item.Overdue)

	// A second sweep does not report it again.
	sweep = m.AutoExpire()
	assert.Empty(t, sweep.Overdue)
}

func TestGetQueueFiltersAndOrders(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	first := m.QueueForReview(resultWithConfidence(0.9), nil, RiskLow)
	now = now.Add(time.Minute)
	second := m.QueueForReview(resultWithConfidence(0.9), nil, RiskCritical)
	now = now.Add(time.Minute)
	third := m.QueueForReview(resultWithConfidence(0.9), nil, RiskCritical)

	queue := m.GetQueue(QueueFilter{Status: StatusPending})
	require.Len(t, queue, 3)
	assert.Equal(t, second.ReviewID, queue[0].ReviewID, "highest risk first, oldest first within a tier")
	assert.Equal(t, third.ReviewID, queue[1].ReviewID)
	assert.Equal(t, first.ReviewID, queue[2].ReviewID)

	onlyCritical := m.GetQueue(QueueFilter{Risk: RiskCritical})
	assert.Len(t, onlyCritical, 2)
}

func TestQueueSurvivesRestart(t *testing.T) {
	now := time.Now()
	path := filepath.Join(t.TempDir(), "reviews.json")

	m, err := New(path, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	item := m.QueueForReview(resultWithConfidence(0.6), []Reason{ReasonLowConfidence}, "")

	restored, err := New(path, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	got, ok := restored.Get(item.ReviewID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, item.SignalID, got.SignalID)
}

func TestPersistWritesVersionedSnapshot(t *testing.T) {
	now := time.Now()
	path := filepath.Join(t.TempDir(), "reviews.json")

	m, err := New(path, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	item := m.QueueForReview(resultWithConfidence(0.6), []Reason{ReasonLowConfidence}, "")

	var snap snapshot
	found, err := storage.LoadJSON(path, &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, snapshotVersion, snap.Version)
	assert.Equal(t, now.Unix(), snap.LastSaved.Unix())
	require.Contains(t, snap.Items, item.ReviewID)
	assert.Equal(t, StatusPending, snap.Items[item.ReviewID].Status)
}

func TestGetStats(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	a := m.QueueForReview(resultWithConfidence(0.6), []Reason{ReasonLowConfidence}, RiskMedium)
	b := m.QueueForReview(resultWithConfidence(0.6), []Reason{ReasonLowConfidence}, RiskMedium)
	m.QueueForReview(resultWithConfidence(0.9), nil, RiskLow)

	now = now.Add(10 * time.Minute)
	_, err := m.Approve(a.ReviewID, "ops", nil)
	require.NoError(t, err)
	now = now.Add(20 * time.Minute)
	_, err = m.Reject(b.ReviewID, "ops", "not needed")
	require.NoError(t, err)

	stats := m.GetStats()
	assert.Equal(t, 1, stats.ByStatus[StatusPending])
	assert.Equal(t, 1, stats.ByStatus[StatusApproved])
	assert.Equal(t, 1, stats.ByStatus[StatusRejected])
	assert.Equal(t, 2, stats.ByReason[ReasonLowConfidence])
	assert.InDelta(t, 0.5, stats.ApprovalRate, 1e-9)
	assert.InDelta(t, 0.5, stats.RejectionRate, 1e-9)
	assert.Equal(t, 20*time.Minute, stats.MeanWait)
	assert.Equal(t, 30*time.Minute, stats.MaxWait)
}
