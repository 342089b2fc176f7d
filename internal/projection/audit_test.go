package projection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navcom/groupctl/internal/model"
)

func auditFixture() model.Projection {
	p := Empty(model.GroupEntity{ID: "ops"})
	p.Members[bob] = model.Membership{Pubkey: bob, Role: model.RoleAdmin, Status: model.StatusActive}
	for _, e := range []model.AuditEvent{
		{Action: "kind:9005", Actor: bob, CreatedAt: 10, EventID: "a"},
		{Action: "kind:9005", Actor: alice, CreatedAt: 20, EventID: "b"},
		{Action: ActionStaleRecovery, Actor: ActorSystem, CreatedAt: 30},
		{Action: "kind:9009", Actor: "outsider-key-000000000000", CreatedAt: 20, EventID: "c"},
	} {
		AddAudit(&p, e)
	}
	return p
}

func TestAuditHistoryDefaults(t *testing.T) {
	page := AuditHistory(auditFixture(), AuditQuery{})
	require.Equal(t, 4, page.Total)
	require.Equal(t, DefaultAuditPageSize, page.PageSize)
	require.Equal(t, "all", page.Action)
	require.Equal(t, ActorsAll, page.Actor)
	require.False(t, page.HasMore)
	require.Equal(t, "System", page.Items[0].ActorLabel)
	require.Equal(t, "c", page.Items[1].EventID)
	require.Equal(t, "b", page.Items[2].EventID)

	require.Equal(t, Option{Value: "all", Label: "All actions", Count: 4}, page.Actions[0])
	require.Equal(t, Option{Value: "kind:9005", Label: "kind:9005", Count: 2}, page.Actions[1])
}

func TestAuditHistoryFilters(t *testing.T) {
	p := auditFixture()

	page := AuditHistory(p, AuditQuery{Actor: ActorsSelf, Self: alice})
	require.Equal(t, 1, page.Total)
	require.Equal(t, "You", page.Items[0].ActorLabel)

	page = AuditHistory(p, AuditQuery{Actor: ActorsKnown})
	require.Equal(t, 1, page.Total)
	require.Equal(t, "admin · "+bob[:8]+"…"+bob[len(bob)-6:], page.Items[0].ActorLabel)

	page = AuditHistory(p, AuditQuery{Actor: ActorsUnknown})
	require.Equal(t, 2, page.Total)

	page = AuditHistory(p, AuditQuery{Action: " kind:9009 ", Actor: "bogus"})
	require.Equal(t, 1, page.Total)
	require.Equal(t, ActorsAll, page.Actor)
}

func TestAuditHistoryPaging(t *testing.T) {
	p := auditFixture()

	page := AuditHistory(p, AuditQuery{PageSize: 3})
	require.Len(t, page.Items, 3)
	require.True(t, page.HasMore)
	require.Equal(t, 3, page.NextCursor)

	page = AuditHistory(p, AuditQuery{PageSize: 3, Cursor: page.NextCursor})
	require.Len(t, page.Items, 1)
	require.False(t, page.HasMore)
	require.Equal(t, 4, page.NextCursor)

	page = AuditHistory(p, AuditQuery{PageSize: 1000, Cursor: 99})
	require.Equal(t, 100, page.PageSize)
	require.Empty(t, page.Items)
}
