package preprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalmesh/signalmesh/signal"
)

func TestProcessCleansEmailBody(t *testing.T) {
	p := New()
	sig := signal.NewSignal(signal.SourceEmail, "Re: Q3 numbers",
		"Please send the updated figures by Friday.\n\n"+
			"On Mon, Aug 17, 2026 John Smith wrote:\n"+
			"> here are the old numbers\n"+
			"> from last quarter\n",
		"cfo@acme.com")

	out := p.Process(&sig)
	assert.Equal(t, "Please send the updated figures by Friday.", out.Body)
	assert.True(t, out.Metadata.HasQuotedReply)
	assert.Contains(t, out.Metadata.CleaningSteps, "quoted_reply_removed")
	assert.Contains(t, out.Metadata.CleaningSteps, "whitespace_normalized")
	assert.Equal(t, 7, out.Metadata.WordCount)
	assert.Equal(t, 1, out.Metadata.SentenceCount)
}

func TestProcessRemovesSignature(t *testing.T) {
	p := New()
	body := "Meeting moved to 3pm tomorrow. Let me know if that works for everyone here.\n" +
		"--\nJane Doe\nVP Operations\n"
	sig := signal.NewSignal(signal.SourceChat, "", body, "jane")

	out := p.Process(&sig)
	assert.NotContains(t, out.Body, "VP Operations")
	assert.True(t, out.Metadata.HasSignature)
}

func TestProcessConvertsHTML(t *testing.T) {
	p := New()
	sig := signal.NewSignal(signal.SourceEmail, "Invoice",
		"<html><body><p>Invoice <b>overdue</b>: pay by Friday.</p></body></html>", "ap@vendor.com")

	out := p.Process(&sig)
	assert.Contains(t, out.Metadata.CleaningSteps, "html_to_markdown")
	assert.NotContains(t, out.Body, "<p>")
	assert.Contains(t, out.Body, "overdue")
}

func TestProcessKeepsQuotesForChatSignals(t *testing.T) {
	p := New()
	body := "From: the meeting notes\nwe agreed to ship"
	sig := signal.NewSignal(signal.SourceChat, "", body, "dev")

	out := p.Process(&sig)
	assert.Contains(t, out.Body, "we agreed to ship")
	assert.False(t, out.Metadata.HasQuotedReply)
}

func TestProcessEmptyBodyAfterStrippingIsValid(t *testing.T) {
	p := New()
	sig := signal.NewSignal(signal.SourceEmail, "",
		"> quoted line one\n> quoted line two\n", "a@b.com")

	out := p.Process(&sig)
	assert.Empty(t, out.Body)
	assert.Zero(t, out.Metadata.WordCount)
}

func TestNormalizeWhitespaceIsIdempotent(t *testing.T) {
	in := "a  \t b\r\nc\n\n\n\nd   "
	once := normalizeWhitespace(in)
	assert.Equal(t, "a b\nc\n\nd", once)
	assert.Equal(t, once, normalizeWhitespace(once))
}

func TestStripSignatureIgnoresEarlyDelimiter(t *testing.T) {
	// A "--" in the opening half is content, not a signature.
	body := "--\noptions below\n" + strings.Repeat("line of real content here\n", 10)
	out, found := stripSignature(body)
	assert.False(t, found)
	assert.Equal(t, body, out)
}

func TestStripSignatureRemovesDisclaimer(t *testing.T) {
	body := "Short note.\nThis email and any attachments are confidential and intended solely for the addressee."
	out, found := stripSignature(body)
	assert.True(t, found)
	assert.NotContains(t, out, "confidential")
}

func TestCountSentences(t *testing.T) {
	assert.Equal(t, 2, countSentences("One. Two!"))
	assert.Equal(t, 1, countSentences("no terminal punctuation"))
	assert.Equal(t, 0, countSentences("   "))
}

func TestProcessWithEntitiesFlag(t *testing.T) {
	flags := DefaultFlags()
	flags.ExtractEntities = true
	p := New(WithFlags(flags))

	sig := signal.NewSignal(signal.SourceEmail, "Intro",
		"Dr. Smith will urgently review the budget. Please send the report asap.", "x@y.com")
	out := p.Process(&sig)
	require.NotNil(t, out.Entities)
	assert.NotEmpty(t, out.Entities.People)
	assert.NotEmpty(t, out.Entities.ActionItems)
}
