package decide

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalmesh/signalmesh/llm"
	"github.com/signalmesh/signalmesh/signal"
)

// scriptedChat returns one canned response for every call.
type scriptedChat struct {
	response string
	calls    int
}

func (s *scriptedChat) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.ChatResponse, error) {
	s.calls++
	return &llm.ChatResponse{Content: s.response, Provider: "fake"}, nil
}

func (s *scriptedChat) PrimaryProvider() string { return "fake" }

func decisionJSON(t *testing.T, action string, confidence float64, params map[string]any) string {
	t.Helper()
	payload := map[string]any{
		"action":     action,
		"confidence": confidence,
		"reasoning":  "the signal names a concrete follow-up",
	}
	if params != nil {
		payload["params"] = params
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return string(data)
}

func decideWith(t *testing.T, response string, opts ...Option) *signal.Decision {
	t.Helper()
	m := New(&scriptedChat{response: response}, nil, opts...)
	sig := signal.NewSignal(signal.SourceEmail, "subject", "body", "sender@acme.com")
	pre := &signal.PreprocessedSignal{Subject: sig.Subject, Body: sig.Body}
	cls := &signal.Classification{
		Urgency: signal.UrgencyMedium, Importance: signal.ImportanceMedium,
		Category: signal.CategoryTask, Confidence: 0.9,
		Reasoning: "clearly a task request",
	}
	d, err := m.Decide(context.Background(), sig, pre, cls)
	require.NoError(t, err)
	return d
}

func TestDecideConfidentActionNeedsNoApproval(t *testing.T) {
	d := decideWith(t, decisionJSON(t, "create_task", 0.9, map[string]any{
		"create_task": map[string]any{"platform": "notion", "title": "send figures"},
	}))

	assert.Equal(t, signal.ActionCreateTask, d.Action)
	assert.False(t, d.RequiresApproval)
	assert.True(t, d.Validation.Valid)
	assert.NotEmpty(t, d.DecisionID)
	assert.NotEmpty(t, d.SignalID)
}

func TestDecideLowConfidenceRequiresApproval(t *testing.T) {
	d := decideWith(t, decisionJSON(t, "create_task", 0.65, map[string]any{
		"create_task": map[string]any{"platform": "notion", "title": "send figures"},
	}))
	assert.True(t, d.RequiresApproval)
	assert.NotContains(t, d.Validation.Warnings, "low_confidence")

	d = decideWith(t, decisionJSON(t, "create_task", 0.4, map[string]any{
		"create_task": map[string]any{"platform": "notion", "title": "send figures"},
	}))
	assert.True(t, d.RequiresApproval)
	assert.Contains(t, d.Validation.Warnings, "low_confidence")
}

func TestDecideConfidenceBelowRejectFloorBecomesIgnore(t *testing.T) {
	d := decideWith(t, decisionJSON(t, "create_task", 0.2, map[string]any{
		"create_task": map[string]any{"platform": "notion", "title": "send figures"},
	}))

	assert.Equal(t, signal.ActionIgnore, d.Action)
	assert.True(t, d.Params.IsEmpty())
	assert.False(t, d.RequiresApproval)
	require.Len(t, d.Validation.Blockers, 1)
	assert.Contains(t, d.Validation.Blockers[0], "reject threshold")
	assert.Contains(t, d.Validation.Warnings, "low_confidence")
}

func TestDecideConfidenceFloorsAreConfigurable(t *testing.T) {
	// A stricter approval floor flips an otherwise confident decision.
	d := decideWith(t, decisionJSON(t, "create_task", 0.9, map[string]any{
		"create_task": map[string]any{"platform": "notion", "title": "send figures"},
	}), WithConfidenceFloors(0.95, 0.5, 0.3))
	assert.True(t, d.RequiresApproval)

	// A zero reject floor keeps even very weak decisions intact.
	d = decideWith(t, decisionJSON(t, "create_task", 0.1, map[string]any{
		"create_task": map[string]any{"platform": "notion", "title": "send figures"},
	}), WithConfidenceFloors(0.5, 0.3, 0))
	assert.Equal(t, signal.ActionCreateTask, d.Action)
	assert.Empty(t, d.Validation.Blockers)
	assert.True(t, d.RequiresApproval)
}

func TestDecideFinancialFilingIsHighImpact(t *testing.T) {
	d := decideWith(t, decisionJSON(t, "file_document", 0.95, map[string]any{
		"file_document": map[string]any{
			"platform": "drive", "folder": "invoices", "name": "q3.pdf",
			"contains_financials": true,
		},
	}))
	assert.True(t, d.RequiresApproval)
	assert.Contains(t, d.Validation.Warnings, "high_impact")
}

func TestDecideNewRecipientDelegationIsHighImpact(t *testing.T) {
	d := decideWith(t, decisionJSON(t, "delegate", 0.95, map[string]any{
		"delegate": map[string]any{"recipient": "new.hire@acme.com", "new_recipient": true},
	}))
	assert.True(t, d.RequiresApproval)
	assert.Contains(t, d.Validation.Warnings, "high_impact")
}

func TestDecideForbiddenTargetBecomesIgnore(t *testing.T) {
	d := decideWith(t, decisionJSON(t, "delegate", 0.95, map[string]any{
		"delegate": map[string]any{"recipient": "eve@external.com"},
	}), WithForbiddenTargets([]string{"*@external.com"}))

	assert.Equal(t, signal.ActionIgnore, d.Action)
	assert.True(t, d.Params.IsEmpty())
	assert.Equal(t, "blocked by policy", d.Reasoning)
	assert.False(t, d.RequiresApproval)
	require.Len(t, d.Validation.Blockers, 1)
	assert.Contains(t, d.Validation.Blockers[0], "eve@external.com")
}

func TestDecideForbiddenChannelBlocksNotification(t *testing.T) {
	d := decideWith(t, decisionJSON(t, "send_notification", 0.95, map[string]any{
		"send_notification": map[string]any{"platform": "chat", "channel": "announcements", "message": "hi"},
	}), WithForbiddenTargets([]string{"announcements"}))

	assert.Equal(t, signal.ActionIgnore, d.Action)
}

func TestParseDecisionRejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown action", decisionJSON(t, "launch_missiles", 0.9, nil), "unknown action"},
		{"confidence above one", decisionJSON(t, "create_task", 1.5, nil), "out of [0,1]"},
		{
			"reasoning too short",
			`{"action":"create_task","confidence":0.9,"reasoning":"ok"}`,
			"reasoning length",
		},
		{
			"ignore with params",
			`{"action":"ignore","confidence":0.9,"reasoning":"nothing to do here","params":{"create_task":{"platform":"notion","title":"x"}}}`,
			"must carry no params",
		},
		{"not json", "I would rather not say.", "not valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseDecision(&llm.ChatResponse{Content: tt.content})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseDecisionAcceptsFencedPayload(t *testing.T) {
	content := "```json\n" + decisionJSON(t, "escalate", 0.8, map[string]any{
		"escalate": map[string]any{"target": "oncall", "reason": "repeated alert"},
	}) + "\n```"

	d, err := parseDecision(&llm.ChatResponse{Content: content})
	require.NoError(t, err)
	assert.Equal(t, signal.ActionEscalate, d.Action)
	require.NotNil(t, d.Params.Escalate)
	assert.Equal(t, "oncall", d.Params.Escalate.Target)
}
