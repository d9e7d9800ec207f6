package classify

import (
	"encoding/json"
	"fmt"

	"github.com/signalmesh/signalmesh/llm"
	"github.com/signalmesh/signalmesh/signal"
)

const (
	minReasoningLen = 10
	maxReasoningLen = 500
)

// parseClassification extracts and validates a Classification from a
// gateway response. Schema violations are hard errors; the caller decides
// whether to retry.
func parseClassification(resp *llm.ChatResponse) (*signal.Classification, error) {
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

	var cls signal.Classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil {
		return nil, fmt.Errorf("classification is not valid JSON: %w", err)
	}
	if err := validateClassification(&cls); err != nil {
		return nil, err
	}
	return &cls, nil
}

func validateClassification(cls *signal.Classification) error {
	if !cls.Urgency.Valid() {
		return fmt.Errorf("unknown urgency %q", cls.Urgency)
	}
	if !cls.Importance.Valid() {
		return fmt.Errorf("unknown importance %q", cls.Importance)
	}
	if !cls.Category.Valid() {
		return fmt.Errorf("unknown category %q", cls.Category)
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return fmt.Errorf("confidence %v out of [0,1]", cls.Confidence)
	}
	if n := len(cls.Reasoning); n < minReasoningLen || n > maxReasoningLen {
		return fmt.Errorf("reasoning length %d outside [%d,%d]", n, minReasoningLen, maxReasoningLen)
	}
	// A critical rating must either demand immediate action or be held
	// with real confidence.
	if cls.Urgency == signal.UrgencyCritical && !cls.RequiresImmediate && cls.Confidence < 0.7 {
		return fmt.Errorf("critical urgency requires requires_immediate or confidence >= 0.7")
	}
	return nil
}
