package model

// Action is a group control action carried by a transport intent.
type Action string

const (
	ActionCreate       Action = "create"
	ActionJoin         Action = "join"
	ActionLeave        Action = "leave"
	ActionPutMember    Action = "put-member"
	ActionRemoveMember Action = "remove-member"
	ActionEditMetadata Action = "edit-metadata"
)

// TargetsMember reports whether the action addresses a single member.
func (a Action) TargetsMember() bool {
	switch a {
	case ActionJoin, ActionLeave, ActionPutMember, ActionRemoveMember:
		return true
	}
	return false
}

// Payload carries the action arguments. GroupID is always required.
type Payload struct {
	GroupID      string `json:"groupId"`
	Title        string `json:"title,omitempty"`
	Description  string `json:"description,omitempty"`
	Picture      string `json:"picture,omitempty"`
	MemberPubkey string `json:"memberPubkey,omitempty"`
	Role         Role   `json:"role,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Intent is an action request awaiting adapter resolution.
type Intent struct {
	Action        Action        `json:"action"`
	Payload       Payload       `json:"payload"`
	ActorRole     Role          `json:"actorRole"`
	RequestedMode TransportMode `json:"requestedMode"`
	CreatedAt     int64         `json:"createdAt"`
}

// MissionTier is the policy strictness level of a group or session.
type MissionTier int

const (
	Tier0 MissionTier = 0
	Tier1 MissionTier = 1
	Tier2 MissionTier = 2
)

// Valid reports whether the tier is 0, 1 or 2.
func (t MissionTier) Valid() bool { return t >= Tier0 && t <= Tier2 }
