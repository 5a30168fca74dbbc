package orchestrator

import "time"

// AttemptStatus is the lifecycle state of one outbound call attempt.
type AttemptStatus string

const (
	// AttemptPending is set when a lead is claimed for dialing. At most one
	// pending attempt may exist per lead at any time.
	AttemptPending AttemptStatus = "pending"
	// AttemptCompleted means the call reached the lead and the CRM write-back
	// finished.
	AttemptCompleted AttemptStatus = "completed"
	// AttemptNoAnswer means the call ended without reaching a human.
	AttemptNoAnswer AttemptStatus = "no_answer"
	// AttemptVoicemail means the call landed in voicemail.
	AttemptVoicemail AttemptStatus = "voicemail"
	// AttemptFailed means the CRM write-back could not be completed after
	// exhausting retries; the lead is parked for manual follow-up.
	AttemptFailed AttemptStatus = "failed"
)

// CallAttempt tracks one lead through dispatch, call, and write-back.
//
// CallID is empty between the pending claim and dispatch acceptance; it is
// the join key for the end-of-call report.
type CallAttempt struct {
	ID     string        `json:"id" db:"id"`
	LeadID string        `json:"lead_id" db:"lead_id"`
	CallID string        `json:"call_id" db:"call_id"`
	Phone  string        `json:"phone" db:"phone"`
	Status AttemptStatus `json:"status" db:"status"`

	// Outcome, Summary and Transcript are filled when the attempt completes.
	Outcome    string `json:"outcome,omitempty" db:"outcome"`
	Summary    string `json:"summary,omitempty" db:"summary"`
	Transcript string `json:"transcript,omitempty" db:"transcript"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Completion carries the terminal state written to an attempt when its
// end-of-call report is processed.
type Completion struct {
	Status     AttemptStatus
	Outcome    string
	Summary    string
	Transcript string
	At         time.Time
}

// FailedLead parks a lead whose CRM write-back permanently failed. The call
// outcome is preserved here so an operator can replay the update by hand.
type FailedLead struct {
	LeadID    string `json:"lead_id" db:"lead_id"`
	CallID    string `json:"call_id" db:"call_id"`
	Outcome   string `json:"outcome" db:"outcome"`
	Summary   string `json:"summary" db:"summary"`
	LastError string `json:"last_error" db:"last_error"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// ContactEvent is a normalized CRM creation notification. The webhook body
// carries more, but only the object id drives orchestration; everything else
// is re-read from the CRM to avoid acting on stale payload data.
type ContactEvent struct {
	LeadID string
}

// StatusMap holds the portal-specific lead-status values written back for
// each qualification outcome.
type StatusMap struct {
	OpenDeal    string
	Unqualified string
	Contacted   string
}
