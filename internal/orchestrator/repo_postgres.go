package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresAttemptStore persists call attempts.
//
// Expected schema:
//
//	CREATE TABLE call_attempts (
//	    id           TEXT PRIMARY KEY,
//	    lead_id      TEXT NOT NULL,
//	    call_id      TEXT NOT NULL DEFAULT '',
//	    phone        TEXT NOT NULL DEFAULT '',
//	    status       TEXT NOT NULL,
//	    outcome      TEXT NOT NULL DEFAULT '',
//	    summary      TEXT NOT NULL DEFAULT '',
//	    transcript   TEXT NOT NULL DEFAULT '',
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    completed_at TIMESTAMPTZ
//	);
//	CREATE UNIQUE INDEX call_attempts_pending_lead
//	    ON call_attempts (lead_id) WHERE status = 'pending';
//
// The partial unique index makes ClaimPending race-free: of two concurrent
// claims for the same lead, exactly one insert lands.
type PostgresAttemptStore struct {
	db *sql.DB
}

func NewPostgresAttemptStore(db *sql.DB) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db}
}

func (s *PostgresAttemptStore) ClaimPending(ctx context.Context, a CallAttempt) error {
	const q = `
INSERT INTO call_attempts (id, lead_id, call_id, phone, status, created_at)
VALUES ($1, $2, $3, $4, 'pending', $5)
ON CONFLICT (lead_id) WHERE status = 'pending' DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q, a.ID, a.LeadID, a.CallID, a.Phone, a.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPendingExists
	}
	return nil
}

func (s *PostgresAttemptStore) ReleasePending(ctx context.Context, leadID string) error {
	const q = `DELETE FROM call_attempts WHERE lead_id = $1 AND status = 'pending'`
	_, err := s.db.ExecContext(ctx, q, leadID)
	return err
}

func (s *PostgresAttemptStore) RecordDispatch(ctx context.Context, leadID, callID string) error {
	const q = `
UPDATE call_attempts SET call_id = $2
WHERE lead_id = $1 AND status = 'pending'
`
	res, err := s.db.ExecContext(ctx, q, leadID, callID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoPendingAttempt
	}
	return nil
}

func (s *PostgresAttemptStore) FindPendingByCallID(ctx context.Context, callID string) (CallAttempt, error) {
	const q = `
SELECT id, lead_id, call_id, phone, status, outcome, summary, transcript, created_at, completed_at
FROM call_attempts
WHERE call_id = $1 AND status = 'pending'
`
	var a CallAttempt
	var completed sql.NullTime
	err := s.db.QueryRowContext(ctx, q, callID).Scan(
		&a.ID, &a.LeadID, &a.CallID, &a.Phone, &a.Status, &a.Outcome, &a.Summary, &a.Transcript, &a.CreatedAt, &completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return CallAttempt{}, ErrNoPendingAttempt
	}
	if err != nil {
		return CallAttempt{}, err
	}
	if completed.Valid {
		a.CompletedAt = &completed.Time
	}
	return a, nil
}

func (s *PostgresAttemptStore) Complete(ctx context.Context, callID string, c Completion) error {
	const q = `
UPDATE call_attempts
SET status = $2, outcome = $3, summary = $4, transcript = $5, completed_at = $6
WHERE call_id = $1 AND status = 'pending'
`
	res, err := s.db.ExecContext(ctx, q, callID, c.Status, c.Outcome, c.Summary, c.Transcript, c.At)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoPendingAttempt
	}
	return nil
}

func (s *PostgresAttemptStore) ListRecent(ctx context.Context, limit int) ([]CallAttempt, error) {
	const q = `
SELECT id, lead_id, call_id, phone, status, outcome, summary, transcript, created_at, completed_at
FROM call_attempts
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallAttempt
	for rows.Next() {
		var a CallAttempt
		var completed sql.NullTime
		if err := rows.Scan(&a.ID, &a.LeadID, &a.CallID, &a.Phone, &a.Status, &a.Outcome, &a.Summary, &a.Transcript, &a.CreatedAt, &completed); err != nil {
			return nil, err
		}
		if completed.Valid {
			a.CompletedAt = &completed.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PostgresFailureStore persists parked leads.
//
// Expected schema:
//
//	CREATE TABLE failed_leads (
//	    lead_id     TEXT NOT NULL,
//	    call_id     TEXT NOT NULL DEFAULT '',
//	    outcome     TEXT NOT NULL DEFAULT '',
//	    summary     TEXT NOT NULL DEFAULT '',
//	    last_error  TEXT NOT NULL DEFAULT '',
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    resolved_at TIMESTAMPTZ
//	);
type PostgresFailureStore struct {
	db *sql.DB
}

func NewPostgresFailureStore(db *sql.DB) *PostgresFailureStore {
	return &PostgresFailureStore{db: db}
}

func (s *PostgresFailureStore) Record(ctx context.Context, f FailedLead) error {
	const q = `
INSERT INTO failed_leads (lead_id, call_id, outcome, summary, last_error, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := s.db.ExecContext(ctx, q, f.LeadID, f.CallID, f.Outcome, f.Summary, f.LastError, f.CreatedAt)
	return err
}

func (s *PostgresFailureStore) List(ctx context.Context, limit int) ([]FailedLead, error) {
	const q = `
SELECT lead_id, call_id, outcome, summary, last_error, created_at, resolved_at
FROM failed_leads
WHERE resolved_at IS NULL
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailedLead
	for rows.Next() {
		var f FailedLead
		var resolved sql.NullTime
		if err := rows.Scan(&f.LeadID, &f.CallID, &f.Outcome, &f.Summary, &f.LastError, &f.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if resolved.Valid {
			f.ResolvedAt = &resolved.Time
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresFailureStore) Resolve(ctx context.Context, leadID string, at time.Time) error {
	const q = `UPDATE failed_leads SET resolved_at = $2 WHERE lead_id = $1 AND resolved_at IS NULL`
	_, err := s.db.ExecContext(ctx, q, leadID, at)
	return err
}
