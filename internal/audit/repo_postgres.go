package audit

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo appends events to audit_events. It never updates or deletes.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: db not configured")
	}
	const q = `
INSERT INTO audit_events (
  id, actor_user_id, actor_role, event_type, call_id, entity_id, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.ActorUserID,
		e.ActorRole,
		e.Type,
		e.CallID,
		e.EntityID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
