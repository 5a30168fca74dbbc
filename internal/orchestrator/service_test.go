package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"leadqual-orchestrator/internal/audit"
	"leadqual-orchestrator/internal/classify"
	"leadqual-orchestrator/internal/hubspot"
	"leadqual-orchestrator/internal/vapi"
)

type fakeCRM struct {
	mu sync.Mutex

	contacts map[string]hubspot.Contact

	statusWrites  []string // "leadID=status"
	summaryWrites []string
	engagements   []hubspot.Engagement

	statusErr error
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{contacts: map[string]hubspot.Contact{}}
}

func (f *fakeCRM) addContact(id, phone string) {
	f.contacts[id] = hubspot.Contact{
		ID: id,
		Properties: hubspot.ContactProperties{
			FirstName: "Jordan", LastName: "Diaz", Phone: phone,
		},
	}
}

func (f *fakeCRM) GetContact(ctx context.Context, id string) (hubspot.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return hubspot.Contact{}, &hubspot.APIError{StatusCode: 404}
	}
	return c, nil
}

func (f *fakeCRM) UpdateContactStatus(ctx context.Context, id, status, expectedPrior string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusWrites = append(f.statusWrites, id+"="+status)
	return nil
}

func (f *fakeCRM) WriteSummaryProperty(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryWrites = append(f.summaryWrites, id+"="+text)
	return nil
}

func (f *fakeCRM) AppendEngagement(ctx context.Context, contactID string, e hubspot.Engagement) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engagements = append(f.engagements, e)
	return "42", nil
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []vapi.CallRequest
	err   error
}

func (f *fakeDialer) InitiateCall(ctx context.Context, req vapi.CallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, req)
	return fmt.Sprintf("call-%d", len(f.calls)), nil
}

func (f *fakeDialer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	svc      *Service
	crm      *fakeCRM
	dialer   *fakeDialer
	attempts *MemoryAttemptStore
	failures *MemoryFailureStore
	audits   *audit.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	crm := newFakeCRM()
	dialer := &fakeDialer{}
	attempts := NewMemoryAttemptStore()
	failures := NewMemoryFailureStore()
	auditRepo := audit.NewMemoryRepo()

	svc := NewService(ServiceConfig{
		CRM:        crm,
		Dialer:     dialer,
		Classifier: classify.NewRuleClassifier(7),
		Attempts:   attempts,
		Failures:   failures,
		Auditor:    audit.NewService(auditRepo),
		Statuses:   StatusMap{OpenDeal: "OPEN_DEAL", Unqualified: "UNQUALIFIED", Contacted: "CONNECTED"},
	})
	return &fixture{svc: svc, crm: crm, dialer: dialer, attempts: attempts, failures: failures, audits: auditRepo}
}

func endOfCallEvent(callID, leadID, endedReason, transcript string, signals *classify.Signals) vapi.WebhookEvent {
	ev := vapi.WebhookEvent{
		Type:        vapi.EventTypeEndOfCallReport,
		EventID:     "evt-" + callID,
		CallID:      callID,
		LeadID:      leadID,
		EndedReason: endedReason,
		Transcript:  transcript,
	}
	if signals != nil {
		raw, _ := json.Marshal(signals)
		ev.StructuredData = raw
	}
	return ev
}

func TestHandleContactCreated_DispatchesCall(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")

	if err := f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: "lead-1"}); err != nil {
		t.Fatalf("HandleContactCreated: %v", err)
	}

	if f.dialer.callCount() != 1 {
		t.Fatalf("calls = %d, want 1", f.dialer.callCount())
	}
	req := f.dialer.calls[0]
	if req.To != "+15550001111" || req.LeadID != "lead-1" || req.LeadName != "Jordan Diaz" {
		t.Fatalf("call request = %+v", req)
	}

	a, err := f.attempts.FindPendingByCallID(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("FindPendingByCallID: %v", err)
	}
	if a.LeadID != "lead-1" || a.Status != AttemptPending {
		t.Fatalf("attempt = %+v", a)
	}
}

func TestHandleContactCreated_NoPhoneSkipsCall(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "")

	err := f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: "lead-1"})
	if !errors.Is(err, ErrNoPhone) {
		t.Fatalf("err = %v, want ErrNoPhone", err)
	}
	if f.dialer.callCount() != 0 {
		t.Fatalf("no call may be dispatched without a phone number")
	}
	if events := f.audits.Events(); len(events) != 1 || events[0].Type != audit.EventTypeDispatchFailed {
		t.Fatalf("audit events = %+v", events)
	}
}

func TestHandleContactCreated_WorkedLeadNotDialed(t *testing.T) {
	f := newFixture(t)
	f.crm.contacts["lead-1"] = hubspot.Contact{
		ID: "lead-1",
		Properties: hubspot.ContactProperties{
			Phone: "+15550001111", LeadStatus: "OPEN_DEAL",
		},
	}

	if err := f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: "lead-1"}); err != nil {
		t.Fatalf("HandleContactCreated: %v", err)
	}
	if f.dialer.callCount() != 0 {
		t.Fatalf("a lead already in a worked status must not be dialed")
	}
}

func TestHandleContactCreated_PendingLeadNotRedialed(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")

	for i := 0; i < 3; i++ {
		if err := f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: "lead-1"}); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if f.dialer.callCount() != 1 {
		t.Fatalf("calls = %d, redelivered notifications must not redial", f.dialer.callCount())
	}
}

func TestHandleContactCreated_ConcurrentDeliveriesDialOnce(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: "lead-1"})
		}()
	}
	wg.Wait()

	if f.dialer.callCount() != 1 {
		t.Fatalf("calls = %d, want exactly 1", f.dialer.callCount())
	}
}

func TestHandleContactCreated_RejectedDispatchReleasesClaim(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")
	f.dialer.err = vapi.ErrDispatch

	if err := f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: "lead-1"}); !errors.Is(err, vapi.ErrDispatch) {
		t.Fatalf("err = %v, want ErrDispatch", err)
	}

	// The claim must be gone so a later notification can retry.
	f.dialer.err = nil
	if err := f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: "lead-1"}); err != nil {
		t.Fatalf("retry after rejection: %v", err)
	}
	if f.dialer.callCount() != 1 {
		t.Fatalf("calls = %d, want 1 successful dispatch", f.dialer.callCount())
	}
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }

func dispatch(t *testing.T, f *fixture, leadID string) {
	t.Helper()
	if err := f.svc.HandleContactCreated(context.Background(), ContactEvent{LeadID: leadID}); err != nil {
		t.Fatalf("dispatch for %s: %v", leadID, err)
	}
}

func TestHandleCallReport_QualifiedWriteBack(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")
	dispatch(t, f, "lead-1")

	ev := endOfCallEvent("call-1", "lead-1", "completed", "great call",
		&classify.Signals{Budget: "high", Authority: boolPtr(true), TimingDays: intPtr(3)})
	if err := f.svc.HandleCallReport(context.Background(), ev); err != nil {
		t.Fatalf("HandleCallReport: %v", err)
	}

	if len(f.crm.statusWrites) != 1 || f.crm.statusWrites[0] != "lead-1=OPEN_DEAL" {
		t.Fatalf("status writes = %v", f.crm.statusWrites)
	}
	if len(f.crm.summaryWrites) != 1 {
		t.Fatalf("summary writes = %v", f.crm.summaryWrites)
	}
	if len(f.crm.engagements) != 1 || f.crm.engagements[0].ToNumber != "+15550001111" {
		t.Fatalf("engagements = %+v", f.crm.engagements)
	}

	attempts, _ := f.attempts.ListRecent(context.Background(), 10)
	if len(attempts) != 1 || attempts[0].Status != AttemptCompleted || attempts[0].Outcome != "qualified" {
		t.Fatalf("attempts = %+v", attempts)
	}
}

func TestHandleCallReport_ReplayDoesNotWriteTwice(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")
	dispatch(t, f, "lead-1")

	ev := endOfCallEvent("call-1", "lead-1", "completed", "not interested at all", nil)
	if err := f.svc.HandleCallReport(context.Background(), ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := f.svc.HandleCallReport(context.Background(), ev); err != nil {
		t.Fatalf("replay must be acknowledged: %v", err)
	}

	if len(f.crm.statusWrites) != 1 {
		t.Fatalf("status writes = %v, replay must not write again", f.crm.statusWrites)
	}

	var unmatched int
	for _, e := range f.audits.Events() {
		if e.Type == audit.EventTypeUnmatchedReport {
			unmatched++
		}
	}
	if unmatched != 1 {
		t.Fatalf("unmatched audit events = %d, want 1", unmatched)
	}
}

func TestHandleCallReport_UnknownCallDiscarded(t *testing.T) {
	f := newFixture(t)

	ev := endOfCallEvent("call-unknown", "lead-9", "completed", "hello", nil)
	if err := f.svc.HandleCallReport(context.Background(), ev); err != nil {
		t.Fatalf("unmatched report must be acknowledged: %v", err)
	}
	if len(f.crm.statusWrites) != 0 {
		t.Fatalf("no CRM write may happen for an unmatched report")
	}
}

func TestHandleCallReport_NoConnect(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")
	dispatch(t, f, "lead-1")

	ev := endOfCallEvent("call-1", "lead-1", "voicemail", "", nil)
	if err := f.svc.HandleCallReport(context.Background(), ev); err != nil {
		t.Fatalf("HandleCallReport: %v", err)
	}

	if f.crm.statusWrites[0] != "lead-1=CONNECTED" {
		t.Fatalf("status writes = %v, no-connect maps to the contacted status", f.crm.statusWrites)
	}
	if f.crm.summaryWrites[0] != "lead-1="+classify.NoConnectSummary {
		t.Fatalf("summary writes = %v", f.crm.summaryWrites)
	}

	attempts, _ := f.attempts.ListRecent(context.Background(), 10)
	if attempts[0].Status != AttemptVoicemail {
		t.Fatalf("attempt status = %s, want voicemail", attempts[0].Status)
	}
}

func TestHandleCallReport_StatusWriteFailureParksLead(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")
	dispatch(t, f, "lead-1")
	f.crm.statusErr = errors.New("hubspot down")

	ev := endOfCallEvent("call-1", "lead-1", "completed", "no budget, not interested", nil)
	err := f.svc.HandleCallReport(context.Background(), ev)
	if !errors.Is(err, ErrWriteBackFailed) {
		t.Fatalf("err = %v, want ErrWriteBackFailed", err)
	}

	parked, _ := f.failures.List(context.Background(), 10)
	if len(parked) != 1 || parked[0].LeadID != "lead-1" || parked[0].Outcome != "unqualified" {
		t.Fatalf("parked = %+v", parked)
	}

	attempts, _ := f.attempts.ListRecent(context.Background(), 10)
	if attempts[0].Status != AttemptFailed {
		t.Fatalf("attempt status = %s, want failed", attempts[0].Status)
	}

	var failedEvents int
	for _, e := range f.audits.Events() {
		if e.Type == audit.EventTypeLeadFailed {
			failedEvents++
		}
	}
	if failedEvents != 1 {
		t.Fatalf("lead_failed audit events = %d, want 1", failedEvents)
	}
}

func TestHandleCallReport_IgnoresOtherEventTypes(t *testing.T) {
	f := newFixture(t)
	ev := vapi.WebhookEvent{Type: "status-update", CallID: "call-1"}
	if err := f.svc.HandleCallReport(context.Background(), ev); err != nil {
		t.Fatalf("non-report events must be ignored: %v", err)
	}
	if len(f.crm.statusWrites) != 0 {
		t.Fatalf("no CRM write for status updates")
	}
}

func TestHandleCallReport_MalformedStructuredDataFallsBack(t *testing.T) {
	f := newFixture(t)
	f.crm.addContact("lead-1", "+15550001111")
	dispatch(t, f, "lead-1")

	ev := endOfCallEvent("call-1", "lead-1", "completed", "please stop calling", nil)
	ev.StructuredData = json.RawMessage(`{"budget": 12345}`)

	if err := f.svc.HandleCallReport(context.Background(), ev); err != nil {
		t.Fatalf("HandleCallReport: %v", err)
	}
	if f.crm.statusWrites[0] != "lead-1=UNQUALIFIED" {
		t.Fatalf("status writes = %v, transcript fallback expected", f.crm.statusWrites)
	}
}
