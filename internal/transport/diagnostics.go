package transport

import (
	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/tierpolicy"
)

// DiagnosticKind names a dispatch diagnostic.
type DiagnosticKind string

const (
	DiagResolved          DiagnosticKind = "resolved"
	DiagFallback          DiagnosticKind = "fallback"
	DiagCapabilityBlocked DiagnosticKind = "capability-blocked"
	DiagTierPolicyBlocked DiagnosticKind = "tier-policy-blocked"
	DiagTierOverride      DiagnosticKind = "tier-override"
)

// Diagnostic is emitted while an intent is dispatched.
type Diagnostic struct {
	Kind          DiagnosticKind
	Intent        model.Intent
	RequestedMode model.TransportMode
	ResolvedMode  model.TransportMode // empty for capability blocks
	Tier          model.MissionTier
	Reason        string
	Override      *tierpolicy.OverrideEvent
}

// Observer receives dispatch diagnostics.
type Observer interface {
	Observe(Diagnostic)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Diagnostic)

func (f ObserverFunc) Observe(d Diagnostic) { f(d) }

func (d Diagnostic) fields() []zap.Field {
	fs := []zap.Field{
		zap.String("diagnostic", string(d.Kind)),
		zap.String("group", d.Intent.Payload.GroupID),
		zap.String("action", string(d.Intent.Action)),
		zap.String("requested_mode", string(d.RequestedMode)),
		zap.Int("mission_tier", int(d.Tier)),
	}
	if d.ResolvedMode != "" {
		fs = append(fs, zap.String("resolved_mode", string(d.ResolvedMode)))
	}
	if d.Reason != "" {
		fs = append(fs, zap.String("reason", d.Reason))
	}
	return fs
}
