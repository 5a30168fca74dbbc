package orchestrator

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptStore keeps attempts in process memory. Claim atomicity comes
// from the single mutex guarding both the pending index and the attempt list.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts []*CallAttempt
	pending  map[string]*CallAttempt // lead id -> open attempt
	byCall   map[string]*CallAttempt // call id -> open attempt
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		pending: make(map[string]*CallAttempt),
		byCall:  make(map[string]*CallAttempt),
	}
}

func (s *MemoryAttemptStore) ClaimPending(ctx context.Context, a CallAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[a.LeadID]; ok {
		return ErrPendingExists
	}
	a.Status = AttemptPending
	cp := a
	s.attempts = append(s.attempts, &cp)
	s.pending[a.LeadID] = &cp
	if cp.CallID != "" {
		s.byCall[cp.CallID] = &cp
	}
	return nil
}

func (s *MemoryAttemptStore) ReleasePending(ctx context.Context, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.pending[leadID]
	if !ok {
		return nil
	}
	delete(s.pending, leadID)
	if a.CallID != "" {
		delete(s.byCall, a.CallID)
	}
	for i, cur := range s.attempts {
		if cur == a {
			s.attempts = append(s.attempts[:i], s.attempts[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryAttemptStore) RecordDispatch(ctx context.Context, leadID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.pending[leadID]
	if !ok {
		return ErrNoPendingAttempt
	}
	a.CallID = callID
	s.byCall[callID] = a
	return nil
}

func (s *MemoryAttemptStore) FindPendingByCallID(ctx context.Context, callID string) (CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byCall[callID]
	if !ok || a.Status != AttemptPending {
		return CallAttempt{}, ErrNoPendingAttempt
	}
	return *a, nil
}

func (s *MemoryAttemptStore) Complete(ctx context.Context, callID string, c Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byCall[callID]
	if !ok || a.Status != AttemptPending {
		return ErrNoPendingAttempt
	}
	a.Status = c.Status
	a.Outcome = c.Outcome
	a.Summary = c.Summary
	a.Transcript = c.Transcript
	at := c.At
	a.CompletedAt = &at
	delete(s.pending, a.LeadID)
	delete(s.byCall, callID)
	return nil
}

func (s *MemoryAttemptStore) ListRecent(ctx context.Context, limit int) ([]CallAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.attempts)
	if limit > n {
		limit = n
	}
	out := make([]CallAttempt, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.attempts[i])
	}
	return out, nil
}

// MemoryFailureStore keeps parked leads in process memory.
type MemoryFailureStore struct {
	mu       sync.Mutex
	failures []*FailedLead
}

func NewMemoryFailureStore() *MemoryFailureStore { return &MemoryFailureStore{} }

func (s *MemoryFailureStore) Record(ctx context.Context, f FailedLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := f
	s.failures = append(s.failures, &cp)
	return nil
}

func (s *MemoryFailureStore) List(ctx context.Context, limit int) ([]FailedLead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FailedLead, 0, limit)
	for i := len(s.failures) - 1; i >= 0 && len(out) < limit; i-- {
		if s.failures[i].ResolvedAt == nil {
			out = append(out, *s.failures[i])
		}
	}
	return out, nil
}

func (s *MemoryFailureStore) Resolve(ctx context.Context, leadID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.failures {
		if f.LeadID == leadID && f.ResolvedAt == nil {
			ts := at
			f.ResolvedAt = &ts
		}
	}
	return nil
}
