package audit

import (
	"context"
	"testing"
	"time"
)

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	svc.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	svc, repo := newTestService()

	err := svc.Append(context.Background(), Event{Type: EventTypeCallDispatched, LeadID: "lead-1"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !e.CreatedAt.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("created_at = %v", e.CreatedAt)
	}
}

func TestAppendRejectsMissingType(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.Append(context.Background(), Event{LeadID: "lead-1"}); err != ErrInvalidEvent {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	svc, _ := newTestService()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		svc.clock = func() time.Time { return ts }
		if err := svc.LogLead(context.Background(), EventTypeLeadUpdated, "lead-1", "call-1", "ok", ""); err != nil {
			t.Fatalf("LogLead: %v", err)
		}
	}

	got, err := svc.Recent(context.Background(), 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].CreatedAt.After(got[1].CreatedAt) || !got[1].CreatedAt.After(got[2].CreatedAt) {
		t.Fatalf("events not newest-first: %v %v %v", got[0].CreatedAt, got[1].CreatedAt, got[2].CreatedAt)
	}
}

func TestRecentCapsLimit(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Recent(context.Background(), 0); err != nil {
		t.Fatalf("Recent with zero limit: %v", err)
	}
	if _, err := svc.Recent(context.Background(), 10_000); err != nil {
		t.Fatalf("Recent with huge limit: %v", err)
	}
}
