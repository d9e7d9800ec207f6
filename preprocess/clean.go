package preprocess

import (
	"regexp"
	"strings"
)

var (
	// Reply-header lines that begin a quoted block in an email body.
	replyHeaderPattern = regexp.MustCompile(`(?mi)^(From:|Sent:|To:|Subject:|On .{2,80} wrote:|-{3,}\s*Original Message\s*-{3,})`)

	// Signature delimiters: the RFC "-- " line, long underscore or dash
	// rules, and mobile-client taglines.
	signaturePattern = regexp.MustCompile(`(?mi)^(--\s*$|_{5,}\s*$|-{5,}\s*$|Sent from my \w+|Get Outlook for \w+)`)

	// Confidentiality boilerplate commonly appended by mail gateways.
	disclaimerPattern = regexp.MustCompile(`(?i)(this (e-?mail|message) (and any attachments )?(is|are) confidential|intended solely for the (use of the )?addressee|if you (are not|received this) .{0,60}(intended recipient|in error))`)

	crlfPattern       = regexp.MustCompile(`\r\n?`)
	spaceRunPattern   = regexp.MustCompile(`[ \t]+`)
	newlineRunPattern = regexp.MustCompile(`\n{3,}`)
)

// stripQuotedReply removes a trailing quoted reply block: everything from
// the first reply-header line onward, plus >-prefixed lines anywhere.
func stripQuotedReply(body string) (string, bool) {
	found := false

	if loc := replyHeaderPattern.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
		found = true
	}

	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			found = true
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), found
}

// stripSignature removes a trailing signature block and confidentiality
// boilerplate.
func stripSignature(body string) (string, bool) {
	found := false

	if loc := signaturePattern.FindStringIndex(body); loc != nil {
		// Only treat as signature when the delimiter sits in the trailing
		// half; a "-- " in the opening lines is likely content.
		if loc[0] >= len(body)/2 {
			body = body[:loc[0]]
			found = true
		}
	}

	if loc := disclaimerPattern.FindStringIndex(body); loc != nil {
		body = body[:loc[0]]
		found = true
	}
	return body, found
}

// normalizeWhitespace collapses space runs, caps consecutive newlines at
// two, converts CRLF to LF, and trims. Idempotent.
func normalizeWhitespace(s string) string {
	s = crlfPattern.ReplaceAllString(s, "\n")
	s = spaceRunPattern.ReplaceAllString(s, " ")

	// Trim trailing spaces per line so blank-ish lines collapse.
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	s = strings.Join(lines, "\n")

	s = newlineRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
