package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/navcom/groupctl/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts one entry under a fresh UUID.
func (r *AuditRepo) Append(ctx context.Context, e model.AuditEvent) (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	const q = `
INSERT INTO group_audit (id, group_id, action, actor, created_at, reason, event_id)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.db.Pool.Exec(ctx, q, id, e.GroupID, e.Action, e.Actor, e.CreatedAt, e.Reason, e.EventID); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ListByGroup returns the newest entries of a group.
func (r *AuditRepo) ListByGroup(ctx context.Context, groupID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT group_id, action, actor, created_at, reason, event_id
FROM group_audit
WHERE group_id=$1
ORDER BY created_at DESC, event_id DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, groupID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		if err := rows.Scan(&e.GroupID, &e.Action, &e.Actor, &e.CreatedAt, &e.Reason, &e.EventID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
