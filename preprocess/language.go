package preprocess

import "strings"

// Closed-class words per language. Frequency matching against these sets
// is crude but robust for short operational messages.
var languageMarkers = map[string][]string{
	"en": {"the", "and", "is", "to", "of", "in", "that", "for", "with", "you", "this", "are", "on", "have", "be"},
	"es": {"el", "la", "de", "que", "y", "en", "los", "una", "por", "con", "para", "las", "este", "como", "más"},
	"fr": {"le", "la", "de", "et", "les", "des", "est", "en", "que", "une", "pour", "dans", "qui", "sur", "avec"},
	"de": {"der", "die", "und", "das", "ist", "von", "den", "mit", "für", "auf", "ein", "eine", "nicht", "sich", "auch"},
}

// detectLanguage scores the body against each language's closed-class
// word set. Empty text defaults to English with zero confidence.
func detectLanguage(body string) (string, float64) {
	words := strings.Fields(strings.ToLower(body))
	if len(words) == 0 {
		return "en", 0
	}

	sets := make(map[string]map[string]struct{}, len(languageMarkers))
	for lang, markers := range languageMarkers {
		set := make(map[string]struct{}, len(markers))
		for _, w := range markers {
			set[w] = struct{}{}
		}
		sets[lang] = set
	}

	best, bestHits := "en", 0
	for lang, set := range sets {
		hits := 0
		for _, w := range words {
			w = strings.Trim(w, ".,;:!?\"'()")
			if _, ok := set[w]; ok {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && lang == "en") {
			best, bestHits = lang, hits
		}
	}

	if bestHits == 0 {
		return "en", 0
	}
	confidence := float64(bestHits) / float64(len(words))
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence
}
