package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter implementation with sliding window and lockout.
type PG struct {
	pool pgxQuerier
	set  Settings
	now  func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or transaction.
func NewPG(q pgxQuerier, s Settings) *PG {
	return &PG{pool: q, set: s.resolve(), now: time.Now}
}

// Allow reports whether dispatch is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, actor, groupID string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until, updated_at FROM dispatch_limiter WHERE actor=$1 AND group_id=$2`
	var blockedUntil time.Time
	var updatedAt time.Time
	err := l.pool.QueryRow(ctx, q, actor, groupID).Scan(&blockedUntil, &updatedAt)
	switch {
	case err == nil:
		now := l.now()
		if blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (actor, group).
func (l *PG) Success(ctx context.Context, actor, groupID string) error {
	const q = `
INSERT INTO dispatch_limiter (actor, group_id, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (actor, group_id)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, actor, groupID)
	return err
}

// Failure records a denied dispatch; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, actor, groupID string) (bool, time.Duration, error) {
	const q = `
INSERT INTO dispatch_limiter (actor, group_id, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (actor, group_id) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - dispatch_limiter.updated_at > $3::interval THEN 1 ELSE dispatch_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, actor, groupID, l.set.Window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.set.MaxFails {
		return false, 0, nil
	}
	blockUntil := l.now().Add(l.set.BlockFor)
	const upd = `UPDATE dispatch_limiter SET blocked_until=$3 WHERE actor=$1 AND group_id=$2`
	if _, err := l.pool.Exec(ctx, upd, actor, groupID, blockUntil); err != nil {
		return false, 0, err
	}
	return true, l.set.BlockFor, nil
}
