// Package limiter locks out actors that repeatedly fail group command authorization.
package limiter

import (
	"context"
	"time"
)

// Limiter tracks denied dispatches per (actor, group) and places temporary lockouts.
type Limiter interface {
	// Allow reports whether the actor may dispatch to the group and an optional retry-after.
	Allow(ctx context.Context, actor, groupID string) (bool, time.Duration, error)
	// Success resets counters after an authorized dispatch.
	Success(ctx context.Context, actor, groupID string) error
	// Failure records a denied dispatch; may place a temporary block.
	Failure(ctx context.Context, actor, groupID string) (bool, time.Duration, error)
}

// Settings configures the sliding window and lockout.
type Settings struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// DefaultSettings allows five denials per fifteen minutes.
var DefaultSettings = Settings{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}

func (s Settings) resolve() Settings {
	if s.Window <= 0 {
		s.Window = DefaultSettings.Window
	}
	if s.MaxFails <= 0 {
		s.MaxFails = DefaultSettings.MaxFails
	}
	if s.BlockFor <= 0 {
		s.BlockFor = DefaultSettings.BlockFor
	}
	return s
}
