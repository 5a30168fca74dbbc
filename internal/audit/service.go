package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only; no Update/Delete methods are provided by design.
// List exists for the ops API read side.
type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, limit int) ([]Event, error)
}

// Service records operational events. Callers treat audit logging as
// best-effort: a failed append is logged by the caller, never propagated
// into the lead pipeline.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Recent returns the newest events, capped at limit.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, limit)
}

// LogLead records a lead-scoped event.
func (s *Service) LogLead(ctx context.Context, typ EventType, leadID, callID, message, metadata string) error {
	return s.Append(ctx, Event{
		Type:     typ,
		LeadID:   leadID,
		CallID:   callID,
		Message:  message,
		Metadata: metadata,
	})
}
