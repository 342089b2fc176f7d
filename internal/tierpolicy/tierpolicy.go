// Package tierpolicy enforces mission-tier rules on transport downgrades.
package tierpolicy

import "github.com/navcom/groupctl/internal/model"

// ActionOverride is the audit action recorded for an accepted tier 2 override.
const ActionOverride = "tier-policy-override"

const overrideReason = "Tier 2 downgrade override acknowledged"

// Block reasons. Each carries the "Tier policy blocked" prefix matched by command feedback.
const (
	ReasonTier1Unconfirmed = "Tier policy blocked: Tier 1 secure downgrade requires explicit confirmation."
	ReasonTier2ModeLock    = "Tier policy blocked: Tier 2 requires secure mode lock."
	ReasonTier2NoDowngrade = "Tier policy blocked: Tier 2 does not allow automatic downgrade."
	ReasonTier2Unconfirmed = "Tier policy blocked: Tier 2 override requires explicit confirmation."
)

// Input is one policy decision request.
type Input struct {
	Tier               model.MissionTier
	GroupID            string
	ActorRole          model.Role
	RequestedMode      model.TransportMode
	ResolvedMode       model.TransportMode
	DowngradeConfirmed bool
	AllowTier2Override bool
	Now                int64
}

// OverrideEvent is the audit record of an accepted override. The caller must persist it.
type OverrideEvent struct {
	Action        string              `json:"action"`
	GroupID       string              `json:"groupId"`
	MissionTier   model.MissionTier   `json:"missionTier"`
	RequestedMode model.TransportMode `json:"requestedMode"`
	ResolvedMode  model.TransportMode `json:"resolvedMode"`
	ActorRole     model.Role          `json:"actorRole"`
	CreatedAt     int64               `json:"createdAt"`
	Reason        string              `json:"reason"`
}

// Audit converts the override into a group audit entry.
func (o OverrideEvent) Audit() model.AuditEvent {
	return model.AuditEvent{
		GroupID:   o.GroupID,
		Action:    o.Action,
		Actor:     string(o.ActorRole),
		CreatedAt: o.CreatedAt,
		Reason:    o.Reason,
	}
}

// Decision is the outcome of Evaluate. Reason is set iff the dispatch is blocked.
type Decision struct {
	Reason   string
	Override *OverrideEvent
}

// Allowed reports whether the dispatch may proceed.
func (d Decision) Allowed() bool { return d.Reason == "" }

// IsDowngrade reports whether a secure request resolved to a non-secure mode.
func IsDowngrade(requested, resolved model.TransportMode) bool {
	return requested == model.ModeSecure && resolved != model.ModeSecure
}

// Evaluate applies the tier rules.
func Evaluate(in Input) Decision {
	downgrade := IsDowngrade(in.RequestedMode, in.ResolvedMode)

	switch in.Tier {
	case model.Tier1:
		if downgrade && !in.DowngradeConfirmed {
			return Decision{Reason: ReasonTier1Unconfirmed}
		}
	case model.Tier2:
		notSecure := in.RequestedMode != model.ModeSecure
		if !in.AllowTier2Override {
			if notSecure {
				return Decision{Reason: ReasonTier2ModeLock}
			}
			if downgrade {
				return Decision{Reason: ReasonTier2NoDowngrade}
			}
			return Decision{}
		}
		if notSecure || downgrade {
			if !in.DowngradeConfirmed {
				return Decision{Reason: ReasonTier2Unconfirmed}
			}
			return Decision{Override: &OverrideEvent{
				Action:        ActionOverride,
				GroupID:       in.GroupID,
				MissionTier:   in.Tier,
				RequestedMode: in.RequestedMode,
				ResolvedMode:  in.ResolvedMode,
				ActorRole:     in.ActorRole,
				CreatedAt:     in.Now,
				Reason:        overrideReason,
			}}
		}
	}
	return Decision{}
}
