// Package model defines domain entities used by the control plane, its services and repositories.
package model

import "github.com/nbd-wtf/go-nostr"

// Event is a signed, verified relay event handed to the control plane.
type Event = nostr.Event

// Protocol is the protocol family a group was created under.
type Protocol string

const (
	ProtocolBaseline Protocol = "nip29"
	ProtocolSecure   Protocol = "nip-ee"
)

// TransportMode identifies a transport adapter.
type TransportMode string

const (
	ModeBaseline TransportMode = "baseline-nip29"
	ModeSecure   TransportMode = "secure-nip-ee"
)

// ModeFor returns the transport mode a protocol runs on.
func ModeFor(p Protocol) TransportMode {
	if p == ProtocolSecure {
		return ModeSecure
	}
	return ModeBaseline
}

// Role is a member role. Priority: owner > admin > moderator > member.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Priority returns the ordinal rank of the role; unknown roles rank as member.
func (r Role) Priority() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleModerator:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool { return r.Priority() >= min.Priority() }

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleModerator, RoleMember:
		return true
	}
	return false
}

// ParseRole maps a raw tag value to a Role, defaulting to member.
func ParseRole(s string) Role {
	if r := Role(s); r.Valid() {
		return r
	}
	return RoleMember
}

// MembershipStatus is the status of a (group, member) pair.
type MembershipStatus string

const (
	StatusActive  MembershipStatus = "active"
	StatusPending MembershipStatus = "pending"
	StatusRemoved MembershipStatus = "removed"
	StatusLeft    MembershipStatus = "left"
)

// GroupEntity is the reconciled metadata of one group.
type GroupEntity struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Picture       string        `json:"picture,omitempty"`
	Protocol      Protocol      `json:"protocol"`
	TransportMode TransportMode `json:"transportMode"`
	CreatedAt     int64         `json:"createdAt"`
	UpdatedAt     int64         `json:"updatedAt"` // monotonic watermark
}

// Membership is one (group, member) record.
type Membership struct {
	GroupID   string           `json:"groupId"`
	Pubkey    string           `json:"pubkey"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	UpdatedAt int64            `json:"updatedAt"`
	EventID   string           `json:"eventId,omitempty"`
}

// AuditEvent is an entry of the group audit trail.
type AuditEvent struct {
	GroupID   string `json:"groupId"`
	Action    string `json:"action"`
	Actor     string `json:"actor"`
	CreatedAt int64  `json:"createdAt"`
	Reason    string `json:"reason,omitempty"`
	EventID   string `json:"eventId,omitempty"`
}

// Projection is the reconciled view of one group.
type Projection struct {
	Group        GroupEntity           `json:"group"`
	Members      map[string]Membership `json:"members"`
	Audit        []AuditEvent          `json:"audit"` // newest first
	SourceEvents []Event               `json:"sourceEvents"`

	// MetaStamps records which event last wrote each metadata field.
	MetaStamps map[string]Stamp `json:"-"`
	// RestoredIDs holds event ids applied before the projection was restored from a checkpoint.
	RestoredIDs []string `json:"-"`
}

// ActiveMembers counts members whose status is active.
func (p Projection) ActiveMembers() int {
	n := 0
	for _, m := range p.Members {
		if m.Status == StatusActive {
			n++
		}
	}
	return n
}

// EventIDs returns the ids of every applied event, restored ones first.
func (p Projection) EventIDs() []string {
	out := make([]string, 0, len(p.RestoredIDs)+len(p.SourceEvents))
	out = append(out, p.RestoredIDs...)
	for _, ev := range p.SourceEvents {
		out = append(out, ev.ID)
	}
	return out
}

// HasEvent reports whether an event id was already applied.
func (p Projection) HasEvent(id string) bool {
	for i := range p.SourceEvents {
		if p.SourceEvents[i].ID == id {
			return true
		}
	}
	for _, r := range p.RestoredIDs {
		if r == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate independently.
func (p Projection) Clone() Projection {
	out := Projection{Group: p.Group}
	out.Members = make(map[string]Membership, len(p.Members))
	for k, v := range p.Members {
		out.Members[k] = v
	}
	out.Audit = append([]AuditEvent(nil), p.Audit...)
	out.SourceEvents = append([]Event(nil), p.SourceEvents...)
	out.RestoredIDs = append([]string(nil), p.RestoredIDs...)
	if p.MetaStamps != nil {
		out.MetaStamps = make(map[string]Stamp, len(p.MetaStamps))
		for k, v := range p.MetaStamps {
			out.MetaStamps[k] = v
		}
	}
	return out
}
