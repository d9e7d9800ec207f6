package preprocess

import (
	"regexp"
	"strings"

	"github.com/signalmesh/signalmesh/signal"
)

var (
	// Title+Name ("Dr. Smith", "Ms Jane Doe") or a role token.
	personPattern = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?\b`)
	rolePattern   = regexp.MustCompile(`(?i)\b(manager|director|engineer|accountant|ceo|cto|cfo|lead|analyst|administrator)\b`)

	sentenceSplitPattern = regexp.MustCompile(`[.!?]+\s+`)
)

// Action-item cue sets. Urgency cues force high priority, soft cues force
// low, the rest default to medium.
var (
	actionCues  = []string{"please", "need to", "needs to", "must", "asap", "action item", "action required", "can you", "could you", "make sure", "don't forget", "remember to", "follow up", "due by", "required"}
	urgencyCues = []string{"asap", "urgent", "immediately", "right away", "critical", "today", "eod", "cob"}
	softCues    = []string{"should", "could", "might", "consider", "maybe", "when you get a chance", "at some point"}
)

// extractEntities builds context-bearing entity references from the body
// and the already-extracted structured data.
func extractEntities(body string, data signal.ExtractedData) *signal.Entities {
	sentences := splitSentences(body)

	entities := &signal.Entities{
		People:      dedupe(append(personPattern.FindAllString(body, -1), rolePattern.FindAllString(body, -1)...)),
		Dates:       withContext(sentences, dateRawValues(data.Dates)),
		Money:       withContext(sentences, moneyRawValues(data.Amounts)),
		URLs:        withContext(sentences, data.URLs),
		FileRefs:    withContext(sentences, data.FileRefs),
		ActionItems: extractActionItems(sentences),
	}
	return entities
}

func splitSentences(body string) []string {
	parts := sentenceSplitPattern.Split(body, -1)
	out := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// withContext pairs each value with the first sentence containing it.
func withContext(sentences []string, values []string) []signal.ContextRef {
	var refs []signal.ContextRef
	for _, value := range values {
		for _, sentence := range sentences {
			if strings.Contains(sentence, value) {
				refs = append(refs, signal.ContextRef{Value: value, Context: sentence})
				break
			}
		}
	}
	return refs
}

func extractActionItems(sentences []string) []signal.ActionItem {
	var items []signal.ActionItem
	for _, sentence := range sentences {
		lower := strings.ToLower(sentence)
		if !containsAny(lower, actionCues) {
			continue
		}
		priority := "medium"
		if containsAny(lower, urgencyCues) {
			priority = "high"
		} else if containsAny(lower, softCues) {
			priority = "low"
		}
		items = append(items, signal.ActionItem{Sentence: sentence, Priority: priority})
	}
	return items
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}

func dateRawValues(dates []signal.DateRef) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Raw
	}
	return out
}

func moneyRawValues(amounts []signal.MoneyRef) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.Raw
	}
	return out
}
