package tierpolicy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navcom/groupctl/internal/model"
)

func TestEvaluate(t *testing.T) {
	const s, b = model.ModeSecure, model.ModeBaseline
	tests := []struct {
		name     string
		in       Input
		reason   string
		override bool
	}{
		{"tier0 downgrade", Input{Tier: 0, RequestedMode: s, ResolvedMode: b}, "", false},
		{"tier1 unconfirmed", Input{Tier: 1, RequestedMode: s, ResolvedMode: b}, ReasonTier1Unconfirmed, false},
		{"tier1 confirmed", Input{Tier: 1, RequestedMode: s, ResolvedMode: b, DowngradeConfirmed: true}, "", false},
		{"tier1 baseline", Input{Tier: 1, RequestedMode: b, ResolvedMode: b}, "", false},
		{"tier2 baseline request", Input{Tier: 2, RequestedMode: b, ResolvedMode: b}, ReasonTier2ModeLock, false},
		{"tier2 downgrade", Input{Tier: 2, RequestedMode: s, ResolvedMode: b}, ReasonTier2NoDowngrade, false},
		{"tier2 secure", Input{Tier: 2, RequestedMode: s, ResolvedMode: s}, "", false},
		{"tier2 override unconfirmed", Input{Tier: 2, RequestedMode: s, ResolvedMode: b, AllowTier2Override: true}, ReasonTier2Unconfirmed, false},
		{"tier2 override", Input{Tier: 2, RequestedMode: s, ResolvedMode: b, AllowTier2Override: true, DowngradeConfirmed: true}, "", true},
		{"tier2 override baseline request", Input{Tier: 2, RequestedMode: b, ResolvedMode: b, AllowTier2Override: true, DowngradeConfirmed: true}, "", true},
		{"tier2 override secure", Input{Tier: 2, RequestedMode: s, ResolvedMode: s, AllowTier2Override: true}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.in)
			require.Equal(t, tt.reason, d.Reason)
			require.Equal(t, tt.reason == "", d.Allowed())
			require.Equal(t, tt.override, d.Override != nil)
		})
	}
}

func TestOverrideEvent(t *testing.T) {
	d := Evaluate(Input{
		Tier: 2, GroupID: "ops", ActorRole: model.RoleAdmin,
		RequestedMode: model.ModeSecure, ResolvedMode: model.ModeBaseline,
		AllowTier2Override: true, DowngradeConfirmed: true, Now: 42,
	})
	require.NotNil(t, d.Override)
	require.Equal(t, OverrideEvent{
		Action: ActionOverride, GroupID: "ops", MissionTier: 2,
		RequestedMode: model.ModeSecure, ResolvedMode: model.ModeBaseline,
		ActorRole: model.RoleAdmin, CreatedAt: 42, Reason: "Tier 2 downgrade override acknowledged",
	}, *d.Override)

	a := d.Override.Audit()
	require.Equal(t, ActionOverride, a.Action)
	require.Equal(t, "admin", a.Actor)
}

func TestDraft(t *testing.T) {
	d := DefaultDraft()
	require.True(t, d.Valid())
	require.Len(t, d.Notices(), 1)
	require.Equal(t, "Tier 0 · baseline-nip29 · downgrade enabled", d.Summary())

	d = Draft{Tier: 2, PreferredMode: model.ModeSecure, AllowDowngrade: true}
	require.False(t, d.Valid())
	require.Len(t, d.Notices(), 3)
}
