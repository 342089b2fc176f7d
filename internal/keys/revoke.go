package keys

import (
	"fmt"

	"github.com/navcom/groupctl/internal/model"
)

// ActionRevocation is the audit action of a compromised-device revocation.
const ActionRevocation = "key-revocation"

// DefaultRevocationReason is used when the caller gives none.
const DefaultRevocationReason = "compromised-device"

// RevocationAudit is the audit record of a revocation.
type RevocationAudit struct {
	Action            string     `json:"action"`
	GroupID           string     `json:"groupId"`
	CompromisedPubkey string     `json:"compromisedPubkey"`
	ActorRole         model.Role `json:"actorRole"`
	Reason            string     `json:"reason"`
	CorrelationID     string     `json:"correlationId"`
	CreatedAt         int64      `json:"createdAt"`
	RevokedKeyCount   int        `json:"revokedKeyCount"`
}

// Audit converts the record into a group audit entry.
func (a RevocationAudit) Audit() model.AuditEvent {
	return model.AuditEvent{
		GroupID:   a.GroupID,
		Action:    a.Action,
		Actor:     string(a.ActorRole),
		CreatedAt: a.CreatedAt,
		Reason:    a.Reason,
		EventID:   a.CorrelationID,
	}
}

// RevokeInput describes a compromised device.
type RevokeInput struct {
	GroupID           string
	CompromisedPubkey string
	ActorRole         model.Role
	Reason            string
	CorrelationID     string
	Now               int64
}

// RevokeResult reports the revocation. OK is false when the group had no keys.
type RevokeResult struct {
	OK              bool
	RevokedKeyCount int
	Audit           RevocationAudit
}

// CorrelationID builds the default correlation id of a revocation.
func CorrelationID(groupID, pubkey string, now int64) string {
	short := pubkey
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("revocation:%s:%s:%d", groupID, short, now)
}

// RevokeCompromisedDevice revokes every key of the group.
func (r *Registry) RevokeCompromisedDevice(in RevokeInput) RevokeResult {
	now := r.at(in.Now)
	revoked := r.RevokeGroup(in.GroupID, now)

	reason := in.Reason
	if reason == "" {
		reason = DefaultRevocationReason
	}
	corr := in.CorrelationID
	if corr == "" {
		corr = CorrelationID(in.GroupID, in.CompromisedPubkey, now)
	}
	return RevokeResult{
		OK:              len(revoked) > 0,
		RevokedKeyCount: len(revoked),
		Audit: RevocationAudit{
			Action:            ActionRevocation,
			GroupID:           in.GroupID,
			CompromisedPubkey: in.CompromisedPubkey,
			ActorRole:         in.ActorRole,
			Reason:            reason,
			CorrelationID:     corr,
			CreatedAt:         now,
			RevokedKeyCount:   len(revoked),
		},
	}
}
