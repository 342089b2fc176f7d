package tierpolicy

import (
	"fmt"

	"github.com/navcom/groupctl/internal/model"
)

// Draft is a group policy being configured by an admin.
type Draft struct {
	Tier           model.MissionTier   `json:"tier" yaml:"tier"`
	PreferredMode  model.TransportMode `json:"preferredMode" yaml:"preferred_mode"`
	AllowDowngrade bool                `json:"allowDowngrade" yaml:"allow_downgrade"`
}

// DefaultDraft is tier 0 on baseline with downgrade enabled.
func DefaultDraft() Draft {
	return Draft{Tier: model.Tier0, PreferredMode: model.ModeBaseline, AllowDowngrade: true}
}

// Notice is advisory text about a draft.
type Notice struct {
	Level   string `json:"level"` // info | warning
	Message string `json:"message"`
}

// Notices explains the consequences of a draft.
func (d Draft) Notices() []Notice {
	var out []Notice
	switch d.PreferredMode {
	case model.ModeBaseline:
		out = append(out, Notice{"info", "Baseline mode favors relay-managed compatibility for current deployments."})
	case model.ModeSecure:
		out = append(out, Notice{"info", "Secure mode requires compatible relay and signer capabilities."})
	}
	if d.Tier >= model.Tier1 && d.AllowDowngrade {
		out = append(out, Notice{"warning", "Tier 1+ should only downgrade with explicit user/admin acknowledgement."})
	}
	if d.Tier == model.Tier2 && d.AllowDowngrade {
		out = append(out, Notice{"warning", "Tier 2 cannot auto-downgrade; require audited admin override events."})
	}
	return out
}

// Valid rejects tier 2 drafts that allow downgrade.
func (d Draft) Valid() bool { return d.Tier.Valid() && !(d.Tier == model.Tier2 && d.AllowDowngrade) }

// Summary renders the draft on one line.
func (d Draft) Summary() string {
	state := "disabled"
	if d.AllowDowngrade {
		state = "enabled"
	}
	return fmt.Sprintf("Tier %d · %s · downgrade %s", d.Tier, d.PreferredMode, state)
}
