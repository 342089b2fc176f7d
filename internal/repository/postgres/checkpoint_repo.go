package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/projection"
)

// CheckpointRepo implements CheckpointRepository using PostgreSQL.
type CheckpointRepo struct{ db *DB }

// NewCheckpointRepo constructs a checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo { return &CheckpointRepo{db: db} }

// Save upserts the checkpoint body keyed by group id.
func (r *CheckpointRepo) Save(ctx context.Context, c projection.Checkpoint) error {
	body, err := c.Encode()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	const q = `
INSERT INTO group_checkpoints (group_id, version, saved_at, body)
VALUES ($1,$2,$3,$4)
ON CONFLICT (group_id)
DO UPDATE SET version=EXCLUDED.version, saved_at=EXCLUDED.saved_at, body=EXCLUDED.body`
	_, err = r.db.Pool.Exec(ctx, q, c.Group.ID, c.Version, c.SavedAt, body)
	return err
}

// Load returns the checkpoint of a group.
func (r *CheckpointRepo) Load(ctx context.Context, groupID string) (projection.Checkpoint, error) {
	const q = `SELECT body FROM group_checkpoints WHERE group_id=$1`
	var body []byte
	if err := r.db.Pool.QueryRow(ctx, q, groupID).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return projection.Checkpoint{}, errs.ErrNotFound
		}
		return projection.Checkpoint{}, err
	}
	return projection.DecodeCheckpoint(body)
}

// List returns all readable checkpoints. Unreadable rows are skipped.
func (r *CheckpointRepo) List(ctx context.Context) ([]projection.Checkpoint, error) {
	const q = `SELECT group_id, body FROM group_checkpoints ORDER BY group_id ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []projection.Checkpoint
	for rows.Next() {
		var (
			groupID string
			body    []byte
		)
		if err := rows.Scan(&groupID, &body); err != nil {
			return nil, err
		}
		c, err := projection.DecodeCheckpoint(body)
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
