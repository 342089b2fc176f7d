package groupid

import (
	"regexp"
	"sort"
	"strings"
)

// LegacyPrefix marks a group id derived from a legacy multi-party channel.
const LegacyPrefix = "legacy:channel:"

// LegacyMemberLimit bounds the member count of a legacy channel.
const LegacyMemberLimit = 64

// Legacy alias failure codes.
const (
	ReasonLegacyInvalidChannel Reason = "GROUP_LEGACY_INVALID_CHANNEL_ID"
	ReasonLegacyTooManyMembers Reason = "GROUP_LEGACY_TOO_MANY_MEMBERS"
	ReasonLegacyInvalidAlias   Reason = "GROUP_LEGACY_INVALID_ALIAS"
)

var hex64Re = regexp.MustCompile(`^[0-9a-f]{64}$`)

// LegacyMembers returns the sorted, deduplicated valid pubkeys of a channel id.
func LegacyMembers(pubkeys []string) []string {
	set := make(map[string]struct{}, len(pubkeys))
	out := make([]string, 0, len(pubkeys))
	for _, p := range pubkeys {
		p = Normalize(p)
		if !hex64Re.MatchString(p) {
			continue
		}
		if _, dup := set[p]; dup {
			continue
		}
		set[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsLegacyChannelID reports whether channelID is already a canonical member list.
func IsLegacyChannelID(channelID string) bool {
	members := LegacyMembers(strings.Split(channelID, ","))
	return len(members) > 1 && strings.Join(members, ",") == Normalize(channelID)
}

// ToLegacyAlias converts a comma-separated channel id to a group alias.
func ToLegacyAlias(channelID string) (string, error) {
	members := LegacyMembers(strings.Split(channelID, ","))
	if len(members) < 2 {
		return "", &ParseError{Reason: ReasonLegacyInvalidChannel, Token: channelID}
	}
	if len(members) > LegacyMemberLimit {
		return "", &ParseError{Reason: ReasonLegacyTooManyMembers, Token: channelID}
	}
	return LegacyPrefix + strings.Join(members, ","), nil
}

// FromLegacyAlias recovers the channel id of an alias.
func FromLegacyAlias(groupID string) (string, error) {
	n := Normalize(groupID)
	if !strings.HasPrefix(n, LegacyPrefix) {
		return "", &ParseError{Reason: ReasonLegacyInvalidAlias, Token: groupID}
	}
	channelID := strings.TrimPrefix(n, LegacyPrefix)
	if _, err := ToLegacyAlias(channelID); err != nil {
		return "", &ParseError{Reason: ReasonLegacyInvalidAlias, Token: groupID}
	}
	return channelID, nil
}

// IsLegacyAlias reports whether groupID is a valid legacy alias.
func IsLegacyAlias(groupID string) bool {
	_, err := FromLegacyAlias(groupID)
	return err == nil
}
