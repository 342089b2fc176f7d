package transport

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/navcom/groupctl/internal/model"
)

// Intent validation reasons.
const (
	ReasonInvalidGroupID      = "GROUP_TRANSPORT_INTENT_INVALID_GROUP_ID"
	ReasonInvalidMemberPubkey = "GROUP_TRANSPORT_INTENT_INVALID_MEMBER_PUBKEY"
)

// NewIntent builds an intent. An empty mode requests baseline.
func NewIntent(action model.Action, p model.Payload, actor model.Role, mode model.TransportMode, now int64) model.Intent {
	if mode == "" {
		mode = model.ModeBaseline
	}
	return model.Intent{
		Action:        action,
		Payload:       p,
		ActorRole:     actor,
		RequestedMode: mode,
		CreatedAt:     now,
	}
}

// ValidateIntent checks the group id and, for member actions, the member
// pubkey format. An absent member pubkey is accepted.
func ValidateIntent(in model.Intent) error {
	if strings.TrimSpace(in.Payload.GroupID) == "" {
		return &Error{
			Code:    CodeValidationFailed,
			Reason:  ReasonInvalidGroupID,
			Message: "Group transport intent requires a non-empty group ID.",
		}
	}
	pk := in.Payload.MemberPubkey
	if in.Action.TargetsMember() && pk != "" && !nostr.IsValid32ByteHex(pk) {
		return &Error{
			Code:    CodeValidationFailed,
			Reason:  ReasonInvalidMemberPubkey,
			Message: "Member pubkey must be a valid 64-char hex string.",
		}
	}
	return nil
}
