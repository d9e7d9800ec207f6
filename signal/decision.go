package signal

import "time"

// Action is the kind of downstream operation a decision requests.
type Action string

// Decision actions.
const (
	ActionCreateTask       Action = "create_task"
	ActionSendNotification Action = "send_notification"
	ActionUpdateSheet      Action = "update_sheet"
	ActionFileDocument     Action = "file_document"
	ActionDelegate         Action = "delegate"
	ActionEscalate         Action = "escalate"
	ActionIgnore           Action = "ignore"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreateTask, ActionSendNotification, ActionUpdateSheet,
		ActionFileDocument, ActionDelegate, ActionEscalate, ActionIgnore:
		return true
	}
	return false
}

// CreateTaskParams parameterizes a create_task action.
type CreateTaskParams struct {
	Platform    string     `json:"platform"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// SendNotificationParams parameterizes a send_notification action.
type SendNotificationParams struct {
	Platform string `json:"platform"`
	Channel  string `json:"channel"`
	Message  string `json:"message"`
}

// UpdateSheetParams parameterizes an update_sheet action.
type UpdateSheetParams struct {
	Platform string   `json:"platform"`
	SheetID  string   `json:"sheet_id"`
	Range    string   `json:"range,omitempty"`
	Values   []string `json:"values,omitempty"`
}

// FileDocumentParams parameterizes a file_document action.
type FileDocumentParams struct {
	Platform string `json:"platform"`
	Folder   string `json:"folder"`
	Name     string `json:"name"`
	// ContainsFinancials marks documents touching monetary data; such
	// filings always require approval.
	ContainsFinancials bool `json:"contains_financials,omitempty"`
}

// DelegateParams parameterizes a delegate action.
type DelegateParams struct {
	Platform  string `json:"platform,omitempty"`
	Recipient string `json:"recipient"`
	Note      string `json:"note,omitempty"`
	// NewRecipient marks delegation to someone not previously seen; such
	// delegations always require approval.
	NewRecipient bool `json:"new_recipient,omitempty"`
}

// EscalateParams parameterizes an escalate action.
type EscalateParams struct {
	Platform string `json:"platform,omitempty"`
	Target   string `json:"target"`
	Reason   string `json:"reason,omitempty"`
}

// ActionParams is a tagged union of per-action parameter structs. Exactly
// one variant is set for any action other than ignore; ignore carries none.
// Extra holds truly free-form fields the LLM produced that do not map onto
// a variant field.
type ActionParams struct {
	CreateTask       *CreateTaskParams       `json:"create_task,omitempty"`
	SendNotification *SendNotificationParams `json:"send_notification,omitempty"`
	UpdateSheet      *UpdateSheetParams      `json:"update_sheet,omitempty"`
	FileDocument     *FileDocumentParams     `json:"file_document,omitempty"`
	Delegate         *DelegateParams         `json:"delegate,omitempty"`
	Escalate         *EscalateParams         `json:"escalate,omitempty"`
	Extra            map[string]string       `json:"extra,omitempty"`
}

// IsEmpty reports whether no variant and no extra fields are set.
func (p ActionParams) IsEmpty() bool {
	return p.CreateTask == nil && p.SendNotification == nil && p.UpdateSheet == nil &&
		p.FileDocument == nil && p.Delegate == nil && p.Escalate == nil && len(p.Extra) == 0
}

// Platform returns the target platform named by the populated variant,
// or "" if none names one.
func (p ActionParams) Platform() string {
	switch {
	case p.CreateTask != nil:
		return p.CreateTask.Platform
	case p.SendNotification != nil:
		return p.SendNotification.Platform
	case p.UpdateSheet != nil:
		return p.UpdateSheet.Platform
	case p.FileDocument != nil:
		return p.FileDocument.Platform
	case p.Delegate != nil:
		return p.Delegate.Platform
	case p.Escalate != nil:
		return p.Escalate.Platform
	}
	return ""
}

// ValidationResult records the outcome of decision validation.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	Errors        []string `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	Blockers      []string `json:"blockers,omitempty"`
}

// Decision is a validated instruction naming an action and its parameters.
type Decision struct {
	DecisionID       string           `json:"decision_id"`
	SignalID         string           `json:"signal_id"`
	Action           Action           `json:"action"`
	Params           ActionParams     `json:"params"`
	RequiresApproval bool             `json:"requires_approval"`
	Reasoning        string           `json:"reasoning"`
	Confidence       float64          `json:"confidence"`
	Timestamp        time.Time        `json:"timestamp"`
	Validation       ValidationResult `json:"validation"`
	ProcessingTime   time.Duration    `json:"processing_time"`
}
