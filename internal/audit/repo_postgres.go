package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit events.
//
// Expected table:
//
//	CREATE TABLE audit_events (
//	    id         TEXT PRIMARY KEY,
//	    type       TEXT NOT NULL,
//	    lead_id    TEXT NOT NULL DEFAULT '',
//	    call_id    TEXT NOT NULL DEFAULT '',
//	    message    TEXT NOT NULL DEFAULT '',
//	    metadata   TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, lead_id, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.Type, e.LeadID, e.CallID, e.Message, e.Metadata, e.CreatedAt)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Event, error) {
	const q = `
SELECT id, type, lead_id, call_id, message, metadata, created_at
FROM audit_events
ORDER BY created_at DESC
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.LeadID, &e.CallID, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
