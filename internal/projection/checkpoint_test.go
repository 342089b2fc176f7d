package projection

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/model"
)

func TestCheckpointRoundTrip(t *testing.T) {
	p := ApplyAll(seed(t), []model.Event{
		put("e1", 100, bob, "admin"),
		mk("mod", groupkind.DeleteEvent, 110, nostr.Tag{"h", "ops"}),
	})
	cp := NewCheckpoint(p, 120)
	require.Equal(t, 1, cp.Version)
	require.Equal(t, []string{"e1", "mod"}, cp.SourceEventIDs)
	require.Equal(t, 2, cp.SourceEventCount)

	data, err := cp.Encode()
	require.NoError(t, err)
	decoded, err := DecodeCheckpoint(data)
	require.NoError(t, err)

	restored, err := Restore(decoded, RestoreOptions{Now: 130, Recover: true})
	require.NoError(t, err)
	require.Equal(t, p.Members, restored.Members)
	require.Equal(t, p.Audit, restored.Audit)
	require.Empty(t, restored.SourceEvents)

	again := Apply(restored, mk("mod", groupkind.DeleteEvent, 110, nostr.Tag{"h", "ops"}))
	require.Len(t, again.Audit, 1)
	require.Equal(t, []string{"e1", "mod"}, NewCheckpoint(again, 140).SourceEventIDs)
}

func TestCheckpointKeepsMetadataRecency(t *testing.T) {
	live := Apply(seed(t), meta("new", 200, "new", "fresh"))
	data, err := NewCheckpoint(live, 210).Encode()
	require.NoError(t, err)
	cp, err := DecodeCheckpoint(data)
	require.NoError(t, err)
	restored, err := Restore(cp, RestoreOptions{Now: 220})
	require.NoError(t, err)

	older := meta("old", 100, "old", "stale")
	live = Apply(live, older)
	restored = Apply(restored, older)
	require.Equal(t, "new", live.Group.Title)
	require.Equal(t, live.Group.Title, restored.Group.Title)
	require.Equal(t, live.Group.Description, restored.Group.Description)

	newer := meta("newer", 300, "newest", "")
	require.Equal(t, "newest", Apply(restored, newer).Group.Title)
	require.Equal(t, "fresh", Apply(restored, newer).Group.Description)
}

func TestRestoreStampsUnstampedFields(t *testing.T) {
	cp := Checkpoint{
		Version: 1,
		Group:   model.GroupEntity{ID: "ops", Title: "Ops", Protocol: model.ProtocolBaseline, UpdatedAt: 200},
		Members: map[string]model.Membership{},
		Audit:   []model.AuditEvent{},
	}
	p, err := Restore(cp, RestoreOptions{Now: 210})
	require.NoError(t, err)
	require.Equal(t, map[string]model.Stamp{"title": {At: 200}}, p.MetaStamps)

	require.Equal(t, "Ops", Apply(p, meta("old", 150, "old", "")).Group.Title)
	require.Equal(t, "late", Apply(p, meta("late", 250, "late", "")).Group.Title)
	require.Equal(t, "about", Apply(p, meta("old", 150, "", "about")).Group.Description)
}

func TestDecodeCheckpointRejects(t *testing.T) {
	for _, body := range []string{
		`{"version":2,"group":{"id":"ops","protocol":"nip29"},"members":{},"audit":[]}`,
		`{"version":1,"group":{"id":"ops","protocol":"nip29"},"audit":[]}`,
		`{"version":1,"group":{"id":"ops","protocol":"nip29"},"members":{}}`,
		`not json`,
	} {
		_, err := DecodeCheckpoint([]byte(body))
		require.ErrorIs(t, err, errs.ErrCheckpointUnreadable, body)
	}
}

func TestRestoreRequiresGroupIdentity(t *testing.T) {
	_, err := Restore(Checkpoint{Version: 1, Group: model.GroupEntity{ID: "ops"}}, RestoreOptions{Now: 1})
	require.ErrorIs(t, err, errs.ErrCheckpointUnreadable)
}

func TestCheckpointStaleness(t *testing.T) {
	cp := Checkpoint{
		Version: 1,
		Group:   model.GroupEntity{ID: "ops", Protocol: model.ProtocolBaseline, TransportMode: model.ModeBaseline, UpdatedAt: 10},
		Members: map[string]model.Membership{bob: {GroupID: "ops", Pubkey: bob, Status: model.StatusActive}},
		Audit:   []model.AuditEvent{},
	}
	now := int64(10 + 86400 + 1)

	p, err := Restore(cp, RestoreOptions{Now: now, Recover: true})
	require.NoError(t, err)
	require.Equal(t, now, p.Group.UpdatedAt)
	require.Empty(t, p.Members)
	require.Len(t, p.Audit, 1)
	require.Equal(t, ActionStaleRecovery, p.Audit[0].Action)
	require.Equal(t, ActorSystem, p.Audit[0].Actor)

	_, err = Restore(cp, RestoreOptions{Now: now})
	require.ErrorIs(t, err, ErrStale)

	p, err = Restore(cp, RestoreOptions{Now: 10 + 86400})
	require.NoError(t, err)
	require.Len(t, p.Members, 1)
}

func TestListSummaries(t *testing.T) {
	byGroup := Build([]model.Event{
		meta("m1", 100, "Ops", ""),
		put("e1", 110, bob, "member"),
		inGroup(put("e2", 200, bob, "member"), "beta"),
	})
	items := List(byGroup, 300, 0)
	require.Len(t, items, 2)
	require.Equal(t, "beta", items[0].ID)
	require.Equal(t, "beta", items[0].Title)
	require.Equal(t, "Ops", items[1].Title)
	require.Equal(t, 1, items[1].MemberCount)
	require.False(t, items[1].Stale)

	require.True(t, Summarize(byGroup["ops"], 110+DefaultStaleAfter+1, 0).Stale)
}
