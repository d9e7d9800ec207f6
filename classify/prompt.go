package classify

import (
	"fmt"
	"strings"

	"github.com/signalmesh/signalmesh/signal"
)

const systemPrompt = `You are an operations triage assistant. Classify the incoming signal and respond with a single JSON object with these fields:
{
  "urgency": "critical" | "high" | "medium" | "low",
  "importance": "high" | "medium" | "low",
  "category": "meeting" | "task" | "report" | "question" | "notification" | "alert" | "request" | "information" | "incident" | "bug" | "finance" | "spam" | "feature",
  "confidence": <number 0..1>,
  "reasoning": "<10-500 characters explaining the classification>",
  "suggested_actions": ["..."],
  "requires_immediate": <boolean>
}
Respond with the JSON object only.`

// buildPrompt renders the user prompt for one signal. The wording is
// stable so identical signals fingerprint identically.
func buildPrompt(sig signal.Signal, pre *signal.PreprocessedSignal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Source: %s\n", sig.Source)
	if pre.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", pre.Subject)
	}
	if sig.Sender != "" {
		fmt.Fprintf(&b, "Sender: %s\n", sig.Sender)
	}
	fmt.Fprintf(&b, "\nBody:\n%s\n", pre.Body)

	if len(pre.Extracted.Dates) > 0 {
		b.WriteString("\nDates mentioned:")
		for _, d := range pre.Extracted.Dates {
			fmt.Fprintf(&b, " %s (%s)", d.Raw, d.ISO)
		}
		b.WriteString("\n")
	}
	if len(pre.Extracted.Amounts) > 0 {
		b.WriteString("Amounts mentioned:")
		for _, a := range pre.Extracted.Amounts {
			fmt.Fprintf(&b, " %.2f %s", a.Amount, a.Currency)
		}
		b.WriteString("\n")
	}
	if len(pre.Extracted.Mentions) > 0 {
		fmt.Fprintf(&b, "Mentions: %s\n", strings.Join(pre.Extracted.Mentions, ", "))
	}
	if pre.Metadata.HasAttachments {
		b.WriteString("Has attachments: yes\n")
	}
	return b.String()
}
