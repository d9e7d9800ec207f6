package publish

import (
	"sync"
	"time"

	"github.com/signalmesh/signalmesh/signal"
)

// defaultAuditLogSize caps the audit trail; oldest entries are evicted
// first.
const defaultAuditLogSize = 10_000

// AuditKind tags an audit entry.
type AuditKind string

// Audit entry kinds.
const (
	AuditPublished       AuditKind = "published"
	AuditPendingApproval AuditKind = "pending_approval"
	AuditApproved        AuditKind = "approved"
	AuditRejected        AuditKind = "rejected"
	AuditRetried         AuditKind = "retried"
	AuditFailed          AuditKind = "failed"
)

// AuditEntry records one publication outcome.
type AuditEntry struct {
	Kind     AuditKind     `json:"kind"`
	ActionID string        `json:"action_id,omitempty"`
	SignalID string        `json:"signal_id"`
	Source   signal.Source `json:"source,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	At       time.Time     `json:"at"`
}

// auditLog is a bounded in-memory ring of publication outcomes.
type auditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	max     int
}

func newAuditLog(max int) *auditLog {
	if max <= 0 {
		max = defaultAuditLogSize
	}
	return &auditLog{max: max}
}

func (a *auditLog) add(entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	if len(a.entries) > a.max {
		a.entries = a.entries[len(a.entries)-a.max:]
	}
}

// AuditFilter selects audit entries. Zero values match everything.
type AuditFilter struct {
	Kind   AuditKind
	Source signal.Source
	Since  time.Time
	Until  time.Time
}

// Audit returns entries matching the filter, oldest first.
func (p *Publisher) Audit(filter AuditFilter) []AuditEntry {
	p.audit.mu.Lock()
	defer p.audit.mu.Unlock()

	var out []AuditEntry
	for _, entry := range p.audit.entries {
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}
		if !filter.Since.IsZero() && entry.At.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && entry.At.After(filter.Until) {
			continue
		}
		out = append(out, entry)
	}
	return out
}
