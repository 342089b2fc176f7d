package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

// Prober measures the capability tuple of a relay.
type Prober interface {
	Capabilities(ctx context.Context, relayURL string) (model.Capabilities, error)
}

// Service combines a Prober, the local Cache and an optional shared Store.
type Service struct {
	prober Prober
	cache  *Cache
	store  Store
	log    *zap.Logger
	now    func() int64
}

// NewService wires the capability service. store may be nil.
func NewService(prober Prober, cache *Cache, store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cache == nil {
		cache = NewCache(0, 0)
	}
	return &Service{prober: prober, cache: cache, store: store, log: log, now: func() int64 { return time.Now().Unix() }}
}

// WithClock overrides the time source. Intended for tests.
func (s *Service) WithClock(now func() int64) *Service {
	s.now = now
	return s
}

// Cache exposes the underlying cache.
func (s *Service) Cache() *Cache { return s.cache }

// Snapshot returns a usable snapshot of relayURL for trigger, probing when
// the cache policy asks for it. A failed probe degrades to the cached
// snapshot when one exists.
func (s *Service) Snapshot(ctx context.Context, t Trigger, relayURL string) (model.CapabilitySnapshot, error) {
	now := s.now()
	s.warm(ctx, relayURL, now)

	if !s.cache.ShouldProbe(t, relayURL, now) {
		if snap, ok := s.cache.GetWithFallback(relayURL, now); ok {
			return snap, nil
		}
	}

	caps, err := s.prober.Capabilities(ctx, relayURL)
	if err != nil {
		if snap, ok := s.cache.GetWithFallback(relayURL, now); ok {
			s.log.Warn("capability probe failed, using cached snapshot",
				zap.String("relay", relayURL), zap.Error(err))
			return snap, nil
		}
		return model.CapabilitySnapshot{}, fmt.Errorf("probe %s: %w", relayURL, err)
	}
	caps.RelayURL = relayURL
	snap := s.cache.Upsert(relayURL, Evaluate(caps, now), now)
	s.log.Debug("capability probed",
		zap.String("relay", relayURL),
		zap.String("trigger", string(t)),
		zap.String("readiness", string(snap.Readiness)),
		zap.Strings("reasons", snap.Reasons))

	if s.store != nil {
		if err := s.store.Save(ctx, snap, now); err != nil {
			s.log.Warn("capability snapshot not shared", zap.String("relay", relayURL), zap.Error(err))
		}
	}
	return snap, nil
}

// warm loads a shared snapshot into an empty local cache entry.
func (s *Service) warm(ctx context.Context, relayURL string, now int64) {
	if s.store == nil || s.cache.Freshness(relayURL, now) != Miss {
		return
	}
	snap, err := s.store.Load(ctx, relayURL)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("capability store load failed", zap.String("relay", relayURL), zap.Error(err))
		}
		return
	}
	s.cache.Put(snap)
}

// Weakest returns the lowest-readiness snapshot among relays, which gates a
// multi-relay dispatch.
func (s *Service) Weakest(ctx context.Context, t Trigger, relays []string) (*model.CapabilitySnapshot, error) {
	var weakest *model.CapabilitySnapshot
	for _, url := range relays {
		snap, err := s.Snapshot(ctx, t, url)
		if err != nil {
			return nil, err
		}
		if weakest == nil || snap.Readiness.Rank() < weakest.Readiness.Rank() {
			snap := snap
			weakest = &snap
		}
	}
	return weakest, nil
}
