package signal

// DateRef is a date mention with its normalized ISO-8601 form.
type DateRef struct {
	Raw string `json:"raw"`
	ISO string `json:"iso"`
}

// MoneyRef is a monetary amount with its currency code.
type MoneyRef struct {
	Raw      string  `json:"raw"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// ExtractedData holds structured data pulled out of a signal body.
// The set-valued fields are deduplicated; dates, times and amounts keep
// their order of appearance.
type ExtractedData struct {
	Emails   []string   `json:"emails,omitempty"`
	Phones   []string   `json:"phones,omitempty"`
	URLs     []string   `json:"urls,omitempty"`
	FileRefs []string   `json:"file_refs,omitempty"`
	Mentions []string   `json:"mentions,omitempty"`
	Dates    []DateRef  `json:"dates,omitempty"`
	Times    []string   `json:"times,omitempty"`
	Amounts  []MoneyRef `json:"amounts,omitempty"`
}

// ContextRef is an extracted value together with the sentence it appeared in.
type ContextRef struct {
	Value   string `json:"value"`
	Context string `json:"context"`
}

// ActionItem is a sentence that reads like a request for work.
type ActionItem struct {
	Sentence string `json:"sentence"`
	Priority string `json:"priority"` // high, medium, low
}

// Entities holds optional higher-level entity extraction results.
type Entities struct {
	People      []string     `json:"people,omitempty"`
	Dates       []ContextRef `json:"dates,omitempty"`
	Money       []ContextRef `json:"money,omitempty"`
	URLs        []ContextRef `json:"urls,omitempty"`
	FileRefs    []ContextRef `json:"file_refs,omitempty"`
	ActionItems []ActionItem `json:"action_items,omitempty"`
}

// PreprocessMetadata describes what preprocessing observed and did.
type PreprocessMetadata struct {
	Language           string   `json:"language"`
	LanguageConfidence float64  `json:"language_confidence"`
	WordCount          int      `json:"word_count"`
	SentenceCount      int      `json:"sentence_count"`
	HasQuotedReply     bool     `json:"has_quoted_reply"`
	HasSignature       bool     `json:"has_signature"`
	HasAttachments     bool     `json:"has_attachments"`
	CleaningSteps      []string `json:"cleaning_steps"`
}

// PreprocessedSignal is a Signal after cleaning and enrichment.
// The cleaned body is never longer than the original.
type PreprocessedSignal struct {
	Subject   string             `json:"subject,omitempty"`
	Body      string             `json:"body"`
	Extracted ExtractedData      `json:"extracted"`
	Entities  *Entities          `json:"entities,omitempty"`
	Metadata  PreprocessMetadata `json:"metadata"`
}
