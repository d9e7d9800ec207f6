// Package signal defines the core domain types that flow through the
// signal-to-action pipeline: the raw Signal, its preprocessed form, the
// LLM-produced Classification and Decision, and the ReasoningResult that
// bundles all stages for publication.
package signal

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies where a signal originated.
type Source string

// Known signal sources.
const (
	SourceEmail       Source = "email"
	SourceChat        Source = "chat"
	SourceSheet       Source = "sheet"
	SourceSheetUpdate Source = "sheet_update"
	SourceManual      Source = "manual"
)

// Attachment is an opaque reference to a file attached to a signal.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Signal is an immutable external notification entering the system.
// It is created by a source adapter and never mutated afterwards.
type Signal struct {
	ID          string       `json:"id"`
	Source      Source       `json:"source"`
	Subject     string       `json:"subject,omitempty"`
	Body        string       `json:"body"`
	Sender      string       `json:"sender,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// NewSignal creates a signal with a generated ID and current timestamp.
func NewSignal(source Source, subject, body, sender string) Signal {
	return Signal{
		ID:        uuid.New().String(),
		Source:    source,
		Subject:   subject,
		Body:      body,
		Sender:    sender,
		Timestamp: time.Now(),
	}
}

// Urgency is the classified time pressure of a signal.
type Urgency string

// Urgency levels, highest first.
const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// Valid reports whether u is a known urgency level.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// Importance is the classified business weight of a signal.
type Importance string

// Importance levels.
const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// Valid reports whether i is a known importance level.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceHigh, ImportanceMedium, ImportanceLow:
		return true
	}
	return false
}

// Category is the classified kind of a signal.
type Category string

// Signal categories.
const (
	CategoryMeeting      Category = "meeting"
	CategoryTask         Category = "task"
	CategoryReport       Category = "report"
	CategoryQuestion     Category = "question"
	CategoryNotification Category = "notification"
	CategoryAlert        Category = "alert"
	CategoryRequest      Category = "request"
	CategoryInformation  Category = "information"
	CategoryIncident     Category = "incident"
	CategoryBug          Category = "bug"
	CategoryFinance      Category = "finance"
	CategorySpam         Category = "spam"
	CategoryFeature      Category = "feature"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryMeeting, CategoryTask, CategoryReport, CategoryQuestion,
		CategoryNotification, CategoryAlert, CategoryRequest, CategoryInformation,
		CategoryIncident, CategoryBug, CategoryFinance, CategorySpam, CategoryFeature:
		return true
	}
	return false
}

// Classification is the validated LLM classification of a signal.
type Classification struct {
	Urgency           Urgency    `json:"urgency"`
	Importance        Importance `json:"importance"`
	Category          Category   `json:"category"`
	Confidence        float64    `json:"confidence"`
	Reasoning         string     `json:"reasoning"`
	SuggestedActions  []string   `json:"suggested_actions,omitempty"`
	RequiresImmediate bool       `json:"requires_immediate"`
}
