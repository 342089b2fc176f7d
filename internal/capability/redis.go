package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

// Store shares snapshots across processes.
type Store interface {
	Save(ctx context.Context, s model.CapabilitySnapshot, now int64) error
	Load(ctx context.Context, relayURL string) (model.CapabilitySnapshot, error)
}

// redisKV is the subset of *redis.Client the store needs.
type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

const snapshotPrefix = "groupctl:capability:"

// RedisStore keeps snapshots in Redis until their stale deadline passes.
type RedisStore struct {
	rdb redisKV
}

// NewRedisStore wraps a redis client.
func NewRedisStore(rdb redisKV) *RedisStore { return &RedisStore{rdb: rdb} }

var _ Store = (*RedisStore)(nil)

// Save stores s with an expiry at its stale deadline.
func (r *RedisStore) Save(ctx context.Context, s model.CapabilitySnapshot, now int64) error {
	ttl := time.Duration(s.StaleAt-now) * time.Second
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.rdb.Set(ctx, snapshotPrefix+s.RelayURL, data, ttl).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Load returns errs.ErrNotFound when no snapshot is stored.
func (r *RedisStore) Load(ctx context.Context, relayURL string) (model.CapabilitySnapshot, error) {
	data, err := r.rdb.Get(ctx, snapshotPrefix+relayURL).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.CapabilitySnapshot{}, errs.ErrNotFound
	}
	if err != nil {
		return model.CapabilitySnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	var s model.CapabilitySnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return model.CapabilitySnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
