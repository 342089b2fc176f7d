package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/securestore"
)

// SecureStateRepo implements securestore.Store using PostgreSQL.
type SecureStateRepo struct{ db *DB }

// NewSecureStateRepo constructs a secure state repository.
func NewSecureStateRepo(db *DB) *SecureStateRepo { return &SecureStateRepo{db: db} }

// Put upserts a record with its envelope as JSON.
func (r *SecureStateRepo) Put(ctx context.Context, rec securestore.Record) error {
	env, err := json.Marshal(rec.Envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	var updated int64
	if rec.Envelope != nil {
		updated = rec.Envelope.UpdatedAt
	}
	const q = `
INSERT INTO secure_group_state (id, account_id, group_id, envelope, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id)
DO UPDATE SET envelope=EXCLUDED.envelope, updated_at=EXCLUDED.updated_at`
	_, err = r.db.Pool.Exec(ctx, q, rec.ID, rec.AccountID, rec.GroupID, env, updated)
	return err
}

// Get loads a record. A body that is not an envelope yields a nil Envelope.
func (r *SecureStateRepo) Get(ctx context.Context, id string) (securestore.Record, error) {
	const q = `SELECT id, account_id, group_id, envelope FROM secure_group_state WHERE id=$1`
	var (
		rec securestore.Record
		raw []byte
	)
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.AccountID, &rec.GroupID, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return securestore.Record{}, errs.ErrNotFound
		}
		return securestore.Record{}, err
	}
	rec.Envelope = decodeEnvelope(raw)
	return rec, nil
}

func decodeEnvelope(raw []byte) *securestore.Envelope {
	var env securestore.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version == 0 {
		return nil
	}
	return &env
}

// Delete removes a record. Deleting a missing id is not an error.
func (r *SecureStateRepo) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM secure_group_state WHERE id=$1`
	_, err := r.db.Pool.Exec(ctx, q, id)
	return err
}

// ListByAccount returns the records of an account ordered by id.
func (r *SecureStateRepo) ListByAccount(ctx context.Context, accountID string) ([]securestore.Record, error) {
	const q = `
SELECT id, account_id, group_id, envelope
FROM secure_group_state
WHERE account_id=$1
ORDER BY id ASC`
	rows, err := r.db.Pool.Query(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []securestore.Record
	for rows.Next() {
		var (
			rec securestore.Record
			raw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.GroupID, &raw); err != nil {
			return nil, err
		}
		rec.Envelope = decodeEnvelope(raw)
		out = append(out, rec)
	}
	return out, rows.Err()
}
