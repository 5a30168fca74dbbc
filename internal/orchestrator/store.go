package orchestrator

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPendingExists means the lead already has a pending call attempt;
	// claiming again must not start a second call.
	ErrPendingExists = errors.New("orchestrator: lead already has a pending call attempt")
	// ErrNoPendingAttempt means no pending attempt matches the given call id.
	ErrNoPendingAttempt = errors.New("orchestrator: no pending call attempt")
)

// AttemptStore persists call attempts.
//
// ClaimPending is the concurrency gate of the whole pipeline: it must be
// atomic so two concurrent webhook deliveries for the same lead cannot both
// claim it. Implementations back this with a mutex (memory) or a partial
// unique index (Postgres).
type AttemptStore interface {
	// ClaimPending inserts a pending attempt for a.LeadID, or returns
	// ErrPendingExists when one is already open.
	ClaimPending(ctx context.Context, a CallAttempt) error

	// ReleasePending removes the pending claim for a lead whose dispatch was
	// rejected, so a later notification may try again.
	ReleasePending(ctx context.Context, leadID string) error

	// RecordDispatch attaches the platform-assigned call id to the lead's
	// pending attempt.
	RecordDispatch(ctx context.Context, leadID, callID string) error

	// FindPendingByCallID resolves an end-of-call report to its attempt.
	FindPendingByCallID(ctx context.Context, callID string) (CallAttempt, error)

	// Complete finalizes the attempt identified by callID. Attempts are
	// immutable once completed.
	Complete(ctx context.Context, callID string, c Completion) error

	// ListRecent returns the newest attempts for the ops API.
	ListRecent(ctx context.Context, limit int) ([]CallAttempt, error)
}

// FailureStore persists leads whose write-back permanently failed.
type FailureStore interface {
	Record(ctx context.Context, f FailedLead) error

	// List returns unresolved failures, newest first.
	List(ctx context.Context, limit int) ([]FailedLead, error)

	// Resolve marks all open failures for a lead as handled.
	Resolve(ctx context.Context, leadID string, at time.Time) error
}
