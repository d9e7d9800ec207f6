package decide

import (
	"fmt"
	"strings"

	"github.com/signalmesh/signalmesh/signal"
)

const systemPrompt = `You are an operations assistant deciding what to do about a classified signal. Respond with a single JSON object:
{
  "action": "create_task" | "send_notification" | "update_sheet" | "file_document" | "delegate" | "escalate" | "ignore",
  "params": { <one key matching the action, holding its parameters, e.g. "create_task": {"platform": "notion", "title": "..."}> },
  "confidence": <number 0..1>,
  "reasoning": "<10-500 characters>"
}
For "ignore" the params object must be empty. Always name the target platform inside the action's parameters. Respond with the JSON object only.`

// buildPrompt renders the decision prompt from the signal and its
// classification.
func buildPrompt(sig signal.Signal, pre *signal.PreprocessedSignal, cls *signal.Classification) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Classification: urgency=%s importance=%s category=%s confidence=%.2f\n",
		cls.Urgency, cls.Importance, cls.Category, cls.Confidence)
	fmt.Fprintf(&b, "Classifier reasoning: %s\n", cls.Reasoning)
	if len(cls.SuggestedActions) > 0 {
		fmt.Fprintf(&b, "Suggested actions: %s\n", strings.Join(cls.SuggestedActions, ", "))
	}

	fmt.Fprintf(&b, "\nSource: %s\n", sig.Source)
	if pre.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", pre.Subject)
	}
	if sig.Sender != "" {
		fmt.Fprintf(&b, "Sender: %s\n", sig.Sender)
	}
	fmt.Fprintf(&b, "\nBody:\n%s\n", pre.Body)

	if items := pre.Entities; items != nil && len(items.ActionItems) > 0 {
		b.WriteString("\nDetected action items:\n")
		for _, item := range items.ActionItems {
			fmt.Fprintf(&b, "- [%s] %s\n", item.Priority, item.Sentence)
		}
	}
	return b.String()
}
