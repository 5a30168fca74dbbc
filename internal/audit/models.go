package audit

import "time"

// Event is an immutable, append-only operational log record. It is the
// operator-visible trail for everything the orchestrator does to a lead:
// dispatch failures and permanently failed CRM writes must never be
// silently dropped.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit writes are best-effort; critical flows do not block on them.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the record.
	Type EventType `json:"type" db:"type"`

	// LeadID is the CRM contact the event concerns.
	LeadID string `json:"lead_id,omitempty" db:"lead_id"`
	// CallID is the voice-platform call id, when one exists.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	// EventTypeCallDispatched records an accepted outbound call request.
	EventTypeCallDispatched EventType = "call_dispatched"
	// EventTypeDispatchFailed records a rejected call request; the lead
	// stays in its initial state and needs operator attention.
	EventTypeDispatchFailed EventType = "dispatch_failed"
	// EventTypeUnmatchedReport records an end-of-call report with no
	// pending call attempt (stale or duplicate delivery).
	EventTypeUnmatchedReport EventType = "unmatched_report"
	// EventTypeLeadUpdated records a completed qualification write-back.
	EventTypeLeadUpdated EventType = "lead_updated"
	// EventTypeLeadFailed records a CRM write that failed after exhausting
	// retries; requires manual follow-up.
	EventTypeLeadFailed EventType = "lead_failed"
)
