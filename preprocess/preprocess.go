// Package preprocess normalizes and enriches raw signals before
// classification: quoted-reply and signature removal, whitespace
// normalization, structured-data extraction, language detection, and
// optional entity extraction.
package preprocess

import (
	"log/slog"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/signalmesh/signalmesh/signal"
)

// Flags toggle individual pipeline stages. The zero value disables
// everything; use DefaultFlags for the standard pipeline.
type Flags struct {
	RemoveQuotedReplies  bool
	RemoveSignatures     bool
	NormalizeWhitespace  bool
	ExtractData          bool
	DetectLanguage       bool
	ExtractEntities      bool
	ConvertHTML          bool
}

// DefaultFlags enables every stage except entity extraction.
func DefaultFlags() Flags {
	return Flags{
		RemoveQuotedReplies: true,
		RemoveSignatures:    true,
		NormalizeWhitespace: true,
		ExtractData:         true,
		DetectLanguage:      true,
		ConvertHTML:         true,
	}
}

// Preprocessor runs the cleaning pipeline.
type Preprocessor struct {
	flags     Flags
	converter *md.Converter
	logger    *slog.Logger
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithFlags overrides the default stage flags.
func WithFlags(flags Flags) Option {
	return func(p *Preprocessor) { p.flags = flags }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Preprocessor) { p.logger = l }
}

// New creates a Preprocessor.
func New(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		flags:  DefaultFlags(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.flags.ConvertHTML {
		p.converter = md.NewConverter("", true, nil)
	}
	return p
}

// Process cleans and enriches sig. Stage failures never propagate: on
// panic the original text is returned with an error_fallback marker and
// whatever metadata was computed.
func (p *Preprocessor) Process(sig *signal.Signal) (out *signal.PreprocessedSignal) {
	out = &signal.PreprocessedSignal{
		Subject: sig.Subject,
		Body:    sig.Body,
		Metadata: signal.PreprocessMetadata{
			Language:       "en",
			HasAttachments: len(sig.Attachments) > 0,
		},
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Preprocessing stage panicked, returning original text", "panic", r)
			out.Body = sig.Body
			out.Subject = sig.Subject
			out.Metadata.CleaningSteps = append(out.Metadata.CleaningSteps, "error_fallback")
		}
	}()

	body := sig.Body
	steps := []string{}

	if p.flags.ConvertHTML && looksLikeHTML(body) {
		if converted, err := p.converter.ConvertString(body); err == nil {
			body = converted
			steps = append(steps, "html_to_markdown")
		} else {
			p.logger.Debug("HTML conversion failed, keeping raw body", "error", err)
		}
	}

	if p.flags.RemoveQuotedReplies && sig.Source == signal.SourceEmail {
		stripped, found := stripQuotedReply(body)
		if found {
			body = stripped
			out.Metadata.HasQuotedReply = true
			steps = append(steps, "quoted_reply_removed")
		}
	}

	if p.flags.RemoveSignatures {
		stripped, found := stripSignature(body)
		if found {
			body = stripped
			out.Metadata.HasSignature = true
			steps = append(steps, "signature_removed")
		}
	}

	if p.flags.NormalizeWhitespace {
		body = normalizeWhitespace(body)
		out.Subject = normalizeWhitespace(sig.Subject)
		steps = append(steps, "whitespace_normalized")
	}

	// Stripping may have consumed the entire body when the content was
	// nothing but quote or signature. That is valid output.
	out.Body = body
	out.Metadata.CleaningSteps = steps
	out.Metadata.WordCount = len(strings.Fields(body))
	out.Metadata.SentenceCount = countSentences(body)

	if p.flags.ExtractData {
		out.Extracted = extractData(body)
	}
	if p.flags.DetectLanguage {
		out.Metadata.Language, out.Metadata.LanguageConfidence = detectLanguage(body)
	}
	if p.flags.ExtractEntities {
		out.Entities = extractEntities(body, out.Extracted)
	}
	return out
}

func looksLikeHTML(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<body") ||
		strings.Contains(lower, "<div") || strings.Contains(lower, "<p>") ||
		strings.Contains(lower, "<br")
}

func countSentences(s string) int {
	count := 0
	for _, r := range s {
		if r == '.' || r == '!' || r == '?' {
			count++
		}
	}
	if count == 0 && strings.TrimSpace(s) != "" {
		return 1
	}
	return count
}
