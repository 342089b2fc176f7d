package groupkind

import (
	"testing"

	"github.com/navcom/groupctl/internal/model"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		kind int
		want Class
	}{
		{Metadata, ClassMetadata},
		{Roles, ClassMetadata},
		{PutUser, ClassMembership},
		{LeaveRequest, ClassMembership},
		{CreateGroup, ClassModeration},
		{DeleteEvent, ClassModeration},
		{GroupEvent, ClassMessage},
		{Welcome, ClassInvite},
		{KeyPackage, ClassKeyPackage},
		{KeyPackageRelays, ClassKeyPackage},
		{1, ClassUnknown},
		{9010, ClassUnknown},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Classify(tt.kind), "kind %d", tt.kind)
	}
}

func TestProtocolOf(t *testing.T) {
	require.Equal(t, model.ProtocolBaseline, ProtocolOf(Metadata))
	require.Equal(t, model.ProtocolBaseline, ProtocolOf(JoinRequest))
	require.Equal(t, model.ProtocolBaseline, ProtocolOf(9030))
	require.Equal(t, model.ProtocolSecure, ProtocolOf(GroupEvent))
	require.Equal(t, model.ProtocolSecure, ProtocolOf(Welcome))
}

func TestFamilies(t *testing.T) {
	require.True(t, IsSecure(GroupEvent))
	require.False(t, IsSecure(PutUser))
	require.True(t, MembershipChange(Welcome))
	require.False(t, MembershipChange(EditMetadata))
	require.Len(t, All(), 17)
}
