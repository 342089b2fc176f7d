package membership

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var me *Error
	require.True(t, errors.As(err, &me), "want *Error, got %v", err)
	return me.Reason
}

func active(at int64, id string) *model.Membership {
	return &model.Membership{GroupID: "ops", Pubkey: "pk", Role: model.RoleMember, Status: model.StatusActive, UpdatedAt: at, EventID: id}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from   model.MembershipStatus
		action Action
		want   model.MembershipStatus
		ok     bool
	}{
		{StateNone, JoinRequest, model.StatusPending, true},
		{StateNone, Approve, model.StatusActive, true},
		{StateNone, Leave, "", false},
		{model.StatusPending, Reject, model.StatusRemoved, true},
		{model.StatusPending, Leave, model.StatusLeft, true},
		{model.StatusActive, SetRole, model.StatusActive, true},
		{model.StatusActive, JoinRequest, "", false},
		{model.StatusRemoved, Restore, model.StatusPending, true},
		{model.StatusRemoved, Approve, "", false},
		{model.StatusLeft, JoinRequest, model.StatusPending, true},
		{model.StatusLeft, Approve, model.StatusActive, true},
	}
	for _, tt := range tests {
		got, ok := Next(tt.from, tt.action)
		require.Equal(t, tt.ok, ok, "%s x %s", tt.from, tt.action)
		require.Equal(t, tt.want, got, "%s x %s", tt.from, tt.action)
	}
}

func TestApplyFromNone(t *testing.T) {
	res, err := Apply(Input{GroupID: "ops", Pubkey: "pk", Action: JoinRequest, ActorRole: model.RoleMember, EventAt: 10, EventID: "e1"})
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, model.StatusPending, res.Membership.Status)
	require.Equal(t, model.RoleMember, res.Membership.Role)
	require.Equal(t, "e1", res.Membership.EventID)
}

func TestRecencyMonotonicity(t *testing.T) {
	cur := active(100, "evt-100")

	_, err := Apply(Input{Action: Leave, ActorRole: model.RoleMember, EventAt: 99, EventID: "evt-099", Current: cur})
	require.Equal(t, ReasonStaleEvent, reasonOf(t, err))

	_, err = Apply(Input{Action: Leave, ActorRole: model.RoleMember, EventAt: 100, EventID: "evt-100", Current: cur})
	require.Equal(t, ReasonDuplicateEvent, reasonOf(t, err))

	mid := active(100, "evt-050")
	_, err = Apply(Input{Action: Leave, ActorRole: model.RoleMember, EventAt: 100, EventID: "evt-040", Current: mid})
	require.Equal(t, ReasonStaleEvent, reasonOf(t, err))

	res, err := Apply(Input{Action: Leave, ActorRole: model.RoleMember, EventAt: 100, EventID: "evt-200", Current: mid})
	require.NoError(t, err)
	require.Equal(t, model.StatusLeft, res.Membership.Status)
}

func TestRoleGate(t *testing.T) {
	for _, action := range []Action{Remove, SetRole} {
		_, err := Apply(Input{Action: action, ActorRole: model.RoleMember, EventAt: 200, EventID: "e2", Current: active(100, "e1")})
		require.Equal(t, ReasonPermissionDenied, reasonOf(t, err))
		require.ErrorIs(t, err, errs.ErrPermissionDenied)

		for _, role := range []model.Role{model.RoleAdmin, model.RoleOwner} {
			_, err := Apply(Input{Action: action, ActorRole: role, EventAt: 200, EventID: "e2", Current: active(100, "e1"), RequestedRole: model.RoleModerator})
			require.NoError(t, err, "%s by %s", action, role)
		}
	}

	_, err := Apply(Input{Action: Remove, ActorRole: model.RoleModerator, EventAt: 200, EventID: "e2", Current: active(100, "e1")})
	require.NoError(t, err)
}

func TestRecencyCheckedBeforeRole(t *testing.T) {
	_, err := Apply(Input{Action: Remove, ActorRole: model.RoleMember, EventAt: 50, EventID: "e0", Current: active(100, "e1")})
	require.Equal(t, ReasonStaleEvent, reasonOf(t, err))
}

func TestSetRole(t *testing.T) {
	res, err := Apply(Input{Action: SetRole, ActorRole: model.RoleAdmin, EventAt: 200, EventID: "e2", Current: active(100, "e1"), RequestedRole: model.RoleModerator})
	require.NoError(t, err)
	require.Equal(t, model.RoleModerator, res.Membership.Role)

	res, err = Apply(Input{Action: SetRole, ActorRole: model.RoleAdmin, EventAt: 300, EventID: "e3", Current: &res.Membership})
	require.NoError(t, err)
	require.Equal(t, model.RoleModerator, res.Membership.Role)
}

func TestInvalidTransition(t *testing.T) {
	_, err := Apply(Input{Action: Restore, ActorRole: model.RoleOwner, EventAt: 200, EventID: "e2", Current: active(100, "e1")})
	require.Equal(t, ReasonInvalidTransition, reasonOf(t, err))
	require.ErrorIs(t, err, errs.ErrValidation)
}
