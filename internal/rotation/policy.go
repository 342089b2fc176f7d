// Package rotation decides when group keys rotate and tracks rotation jobs
// with exponential retry backoff.
package rotation

import (
	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/model"
)

// Policy holds rotation thresholds in seconds.
type Policy struct {
	MaxKeyAge      int64 `yaml:"max_key_age"`
	RetryBaseDelay int64 `yaml:"retry_base_delay"`
	RetryMaxDelay  int64 `yaml:"retry_max_delay"`
	MaxRetries     int   `yaml:"max_retries"`
}

// expiryLead is how long before expiry a scheduled rotation becomes due.
const expiryLead int64 = 60

// DefaultPolicy returns 12h max age, 30s base delay, 30m max delay and 5 retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxKeyAge:      12 * 60 * 60,
		RetryBaseDelay: 30,
		RetryMaxDelay:  30 * 60,
		MaxRetries:     5,
	}
}

// Resolve fills zero fields from DefaultPolicy.
func (p Policy) Resolve() Policy {
	def := DefaultPolicy()
	if p.MaxKeyAge <= 0 {
		p.MaxKeyAge = def.MaxKeyAge
	}
	if p.RetryBaseDelay <= 0 {
		p.RetryBaseDelay = def.RetryBaseDelay
	}
	if p.RetryMaxDelay <= 0 {
		p.RetryMaxDelay = def.RetryMaxDelay
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	return p
}

// RetryDelay returns min(base * 2^(attempt-1), max).
func (p Policy) RetryDelay(attempt int) int64 {
	p = p.Resolve()
	delay := p.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.RetryMaxDelay {
			return p.RetryMaxDelay
		}
	}
	if delay > p.RetryMaxDelay {
		return p.RetryMaxDelay
	}
	return delay
}

// ShouldRotate reports whether a rotation is due. Manual, compromise and
// membership triggers always rotate. A scheduled rotation is due for a
// missing or expired key, a key past the max age, or one within a minute of
// its expiry. Revoked and destroyed keys are left alone.
func ShouldRotate(key *model.KeyState, trigger model.RotationTrigger, now int64, p Policy) bool {
	switch trigger {
	case model.TriggerManual, model.TriggerCompromiseSuspected, model.TriggerMembershipChange:
		return true
	}
	if key == nil {
		return true
	}
	if key.Status == model.KeyRevoked || key.Status == model.KeyDestroyed {
		return false
	}
	p = p.Resolve()
	if key.Status == model.KeyExpired {
		return true
	}
	if now >= key.CreatedAt+p.MaxKeyAge {
		return true
	}
	if key.ExpiresAt > 0 && now >= max(key.CreatedAt, key.ExpiresAt-expiryLead) {
		return true
	}
	return false
}

// HasMembershipChange reports whether any event changes group membership.
func HasMembershipChange(events []model.Event) bool {
	for _, ev := range events {
		if groupkind.MembershipChange(ev.Kind) {
			return true
		}
	}
	return false
}
