// Package contract validates that relay events satisfy the group event contract.
//
// Validation never returns an error: the event stream is adversarial, so a
// failing event produces a Diagnostic the caller may log and then drops.
package contract

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/model"
)

// Reason is a contract failure code.
type Reason string

const (
	ReasonUnknownKind      Reason = "GROUP_CONTRACT_UNKNOWN_KIND"
	ReasonMissingGroupTag  Reason = "GROUP_CONTRACT_MISSING_GROUP_TAG"
	ReasonMissingMemberTag Reason = "GROUP_CONTRACT_MISSING_MEMBER_TAG"
	ReasonInvalidTagFormat Reason = "GROUP_CONTRACT_INVALID_TAG_FORMAT"
)

// Tag names used for correlation.
const (
	TagGroup      = "h"
	TagIdentifier = "d"
	TagMember     = "p"
	TagRole       = "role"
)

// Diagnostic describes why an event was rejected.
type Diagnostic struct {
	Reason  Reason
	EventID string
	Kind    int
	GroupID string
}

// Result is the outcome of Validate. Diagnostic is nil on success.
type Result struct {
	GroupID    string
	Class      groupkind.Class
	Diagnostic *Diagnostic
}

// OK reports whether the event passed validation.
func (r Result) OK() bool { return r.Diagnostic == nil }

// Validate checks kind, tag structure and the required correlation tags.
func Validate(ev model.Event) Result {
	fail := func(reason Reason, groupID string) Result {
		return Result{Diagnostic: &Diagnostic{Reason: reason, EventID: ev.ID, Kind: ev.Kind, GroupID: groupID}}
	}
	if !groupkind.Known(ev.Kind) {
		return fail(ReasonUnknownKind, "")
	}
	if !wellFormed(ev) {
		return fail(ReasonInvalidTagFormat, "")
	}

	tags := NormalizeTags(ev.Tags)
	class := groupkind.Classify(ev.Kind)
	groupID := GroupIDOf(tags)
	if groupID == "" {
		return fail(ReasonMissingGroupTag, "")
	}
	if class == groupkind.ClassMembership && TagValue(tags, TagMember) == "" {
		return fail(ReasonMissingMemberTag, groupID)
	}
	return Result{GroupID: groupID, Class: class}
}

// GroupIDOf returns the group id carried by normalized tags: h, else d.
func GroupIDOf(tags nostr.Tags) string {
	if id := TagValue(tags, TagGroup); id != "" {
		return id
	}
	return TagValue(tags, TagIdentifier)
}

// wellFormed rejects empty tags and tags without a key.
func wellFormed(ev model.Event) bool {
	for _, t := range ev.Tags {
		if len(t) == 0 || strings.TrimSpace(t[0]) == "" {
			return false
		}
	}
	return true
}
