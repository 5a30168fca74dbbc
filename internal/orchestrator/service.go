package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"leadqual-orchestrator/internal/audit"
	"leadqual-orchestrator/internal/classify"
	"leadqual-orchestrator/internal/hubspot"
	"leadqual-orchestrator/internal/vapi"
)

// CRM is the write-back surface the pipeline needs from the CRM client.
type CRM interface {
	GetContact(ctx context.Context, id string) (hubspot.Contact, error)
	UpdateContactStatus(ctx context.Context, id, status, expectedPrior string) error
	WriteSummaryProperty(ctx context.Context, id, text string) error
	AppendEngagement(ctx context.Context, contactID string, e hubspot.Engagement) (string, error)
}

// Dialer dispatches outbound calls on the voice platform.
type Dialer interface {
	InitiateCall(ctx context.Context, req vapi.CallRequest) (string, error)
}

// leadStatusNew is the CRM's status for a contact nobody has worked yet.
const leadStatusNew = "NEW"

var (
	// ErrNoPhone means the contact has no dialable number; the notification is
	// consumed without a call.
	ErrNoPhone = errors.New("orchestrator: contact has no phone number")
	// ErrWriteBackFailed means the CRM status write exhausted retries. The
	// lead is parked in the failure store for manual follow-up.
	ErrWriteBackFailed = errors.New("orchestrator: crm write-back failed")
)

// Service drives a lead from CRM creation notification to qualified CRM
// write-back.
//
// Two entry points mirror the two webhook surfaces: HandleContactCreated on
// the CRM side, HandleCallReport on the voice-platform side. Both are safe
// to call concurrently and safe to call again with a redelivered event.
type Service struct {
	crm        CRM
	dialer     Dialer
	classifier classify.Classifier
	attempts   AttemptStore
	failures   FailureStore
	auditor    *audit.Service
	log        *slog.Logger

	statuses StatusMap
	clock    func() time.Time
}

type ServiceConfig struct {
	CRM        CRM
	Dialer     Dialer
	Classifier classify.Classifier
	Attempts   AttemptStore
	Failures   FailureStore
	Auditor    *audit.Service
	Logger     *slog.Logger
	Statuses   StatusMap
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		crm:        cfg.CRM,
		dialer:     cfg.Dialer,
		classifier: cfg.Classifier,
		attempts:   cfg.Attempts,
		failures:   cfg.Failures,
		auditor:    cfg.Auditor,
		log:        cfg.Logger,
		statuses:   cfg.Statuses,
		clock:      time.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// HandleContactCreated reacts to a new CRM contact: read the contact, claim
// the lead, dispatch the outbound call.
//
// The claim happens before dispatch so a concurrent duplicate notification
// observes ErrPendingExists and backs off instead of double-dialing. A
// rejected dispatch releases the claim.
func (s *Service) HandleContactCreated(ctx context.Context, ev ContactEvent) error {
	if ev.LeadID == "" {
		return errors.New("orchestrator: contact event without lead id")
	}
	log := s.log.With("lead_id", ev.LeadID)

	contact, err := s.crm.GetContact(ctx, ev.LeadID)
	if err != nil {
		return fmt.Errorf("read contact: %w", err)
	}
	if contact.Properties.Phone == "" {
		// Permanent condition; retrying the notification cannot fix it.
		log.Warn("contact has no phone number, skipping call")
		s.auditLead(ctx, audit.EventTypeDispatchFailed, ev.LeadID, "", "no phone number on contact", "")
		return ErrNoPhone
	}
	if st := contact.Properties.LeadStatus; st != "" && st != leadStatusNew {
		// Already worked by someone; only fresh leads get the automated call.
		log.Info("contact not in initial status, skipping call", "status", st)
		return nil
	}

	attempt := CallAttempt{
		ID:        uuid.NewString(),
		LeadID:    ev.LeadID,
		Phone:     contact.Properties.Phone,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.attempts.ClaimPending(ctx, attempt); err != nil {
		if errors.Is(err, ErrPendingExists) {
			log.Info("lead already has a call in flight, skipping")
			return nil
		}
		return fmt.Errorf("claim lead: %w", err)
	}

	callID, err := s.dialer.InitiateCall(ctx, vapi.CallRequest{
		To:       contact.Properties.Phone,
		LeadID:   ev.LeadID,
		LeadName: contact.FullName(),
	})
	if err != nil {
		if relErr := s.attempts.ReleasePending(ctx, ev.LeadID); relErr != nil {
			log.Error("failed to release pending claim", "err", relErr)
		}
		s.auditLead(ctx, audit.EventTypeDispatchFailed, ev.LeadID, "", err.Error(), "")
		return fmt.Errorf("dispatch call: %w", err)
	}

	if err := s.attempts.RecordDispatch(ctx, ev.LeadID, callID); err != nil {
		// The call is already running; losing the call id would orphan its
		// report, so this is fatal for the request.
		return fmt.Errorf("record dispatch: %w", err)
	}

	log.Info("outbound call dispatched", "call_id", callID)
	s.auditLead(ctx, audit.EventTypeCallDispatched, ev.LeadID, callID, "outbound call dispatched", "")
	return nil
}

// HandleCallReport consumes an end-of-call report: classify the outcome and
// write it back to the CRM.
//
// Write ordering is CRM first, attempt completion second. A crash between the
// two leaves the attempt pending; the provider redelivers, and the CRM writes
// are absolute-value updates, so replaying them is harmless.
func (s *Service) HandleCallReport(ctx context.Context, ev vapi.WebhookEvent) error {
	if ev.Type != vapi.EventTypeEndOfCallReport {
		return nil
	}
	log := s.log.With("call_id", ev.CallID, "lead_id", ev.LeadID)

	attempt, err := s.attempts.FindPendingByCallID(ctx, ev.CallID)
	if err != nil {
		if errors.Is(err, ErrNoPendingAttempt) {
			// Stale or duplicate delivery. Recorded and dropped, never guessed
			// into a CRM write.
			log.Warn("end-of-call report matches no pending attempt, discarding", "ended_reason", ev.EndedReason)
			s.auditLead(ctx, audit.EventTypeUnmatchedReport, ev.LeadID, ev.CallID, "report matches no pending call attempt", "")
			return nil
		}
		return fmt.Errorf("match report: %w", err)
	}

	result, err := s.classifier.Classify(ctx, classify.Input{
		Transcript:      ev.Transcript,
		Signals:         decodeSignals(ev.StructuredData, log),
		EndedReason:     ev.EndedReason,
		PlatformSummary: ev.Summary,
	})
	if err != nil {
		return fmt.Errorf("classify call: %w", err)
	}

	status := s.statusFor(result.Outcome)
	if err := s.crm.UpdateContactStatus(ctx, attempt.LeadID, status, ""); err != nil {
		now := s.clock().UTC()
		log.Error("lead status write-back failed", "status", status, "err", err)
		if recErr := s.failures.Record(ctx, FailedLead{
			LeadID:    attempt.LeadID,
			CallID:    ev.CallID,
			Outcome:   string(result.Outcome),
			Summary:   result.Summary,
			LastError: err.Error(),
			CreatedAt: now,
		}); recErr != nil {
			log.Error("failed to park lead", "err", recErr)
		}
		if compErr := s.attempts.Complete(ctx, ev.CallID, Completion{
			Status:     AttemptFailed,
			Outcome:    string(result.Outcome),
			Summary:    result.Summary,
			Transcript: ev.Transcript,
			At:         now,
		}); compErr != nil {
			log.Error("failed to finalize attempt", "err", compErr)
		}
		s.auditLead(ctx, audit.EventTypeLeadFailed, attempt.LeadID, ev.CallID, err.Error(), "")
		return fmt.Errorf("update lead status: %w", ErrWriteBackFailed)
	}

	// Summary and timeline are best-effort once the status landed; a partial
	// failure here is operator-visible but does not fail the report.
	if result.Summary != "" {
		if err := s.crm.WriteSummaryProperty(ctx, attempt.LeadID, result.Summary); err != nil {
			log.Error("summary property write failed", "err", err)
		}
	}
	if _, err := s.crm.AppendEngagement(ctx, attempt.LeadID, hubspot.Engagement{
		Body:      engagementBody(result, ev.EndedReason),
		Direction: hubspot.EngagementDirectionOut,
		ToNumber:  attempt.Phone,
	}); err != nil {
		log.Error("engagement append failed", "err", err)
	}

	now := s.clock().UTC()
	if err := s.attempts.Complete(ctx, ev.CallID, Completion{
		Status:     attemptStatusFor(ev.EndedReason),
		Outcome:    string(result.Outcome),
		Summary:    result.Summary,
		Transcript: ev.Transcript,
		At:         now,
	}); err != nil {
		return fmt.Errorf("finalize attempt: %w", err)
	}

	// A successful write-back supersedes any earlier parked failure.
	if err := s.failures.Resolve(ctx, attempt.LeadID, now); err != nil {
		log.Error("failed to resolve parked lead", "err", err)
	}

	log.Info("lead write-back completed", "outcome", result.Outcome, "status", status)
	s.auditLead(ctx, audit.EventTypeLeadUpdated, attempt.LeadID, ev.CallID,
		fmt.Sprintf("outcome %s, status %s", result.Outcome, status), "")
	return nil
}

// RecentAttempts exposes the attempt trail to the ops API.
func (s *Service) RecentAttempts(ctx context.Context, limit int) ([]CallAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.attempts.ListRecent(ctx, limit)
}

// FailedLeads exposes unresolved parked leads to the ops API.
func (s *Service) FailedLeads(ctx context.Context, limit int) ([]FailedLead, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.failures.List(ctx, limit)
}

func (s *Service) statusFor(o classify.Outcome) string {
	switch o {
	case classify.OutcomeQualified:
		return s.statuses.OpenDeal
	case classify.OutcomeUnqualified:
		return s.statuses.Unqualified
	default:
		return s.statuses.Contacted
	}
}

func (s *Service) auditLead(ctx context.Context, typ audit.EventType, leadID, callID, message, metadata string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.LogLead(ctx, typ, leadID, callID, message, metadata); err != nil {
		s.log.Error("audit append failed", "type", typ, "lead_id", leadID, "err", err)
	}
}

func attemptStatusFor(endedReason string) AttemptStatus {
	switch {
	case endedReason == "voicemail":
		return AttemptVoicemail
	case vapi.NoConnect(endedReason):
		return AttemptNoAnswer
	default:
		return AttemptCompleted
	}
}

// decodeSignals interprets the platform's structured extraction. A payload
// that does not parse is treated as absent, not as an error.
func decodeSignals(raw json.RawMessage, log *slog.Logger) *classify.Signals {
	if len(raw) == 0 {
		return nil
	}
	var sig classify.Signals
	if err := json.Unmarshal(raw, &sig); err != nil {
		log.Warn("unparseable structured data, classifying from transcript", "err", err)
		return nil
	}
	if sig.Budget == "" && sig.Authority == nil && sig.Need == nil && sig.TimingDays == nil {
		return nil
	}
	return &sig
}

func engagementBody(res classify.Result, endedReason string) string {
	if res.Summary == "" {
		return fmt.Sprintf("Automated qualification call ended (%s).", endedReason)
	}
	return res.Summary
}
