// Package groupkind maps protocol event kinds to semantic group classes and protocol families.
package groupkind

import "github.com/navcom/groupctl/internal/model"

// Baseline (NIP-29) kinds.
const (
	Metadata      = 39000
	Admins        = 39001
	Members       = 39002
	Roles         = 39003
	PutUser       = 9000
	RemoveUser    = 9001
	EditMetadata  = 9002
	DeleteEvent   = 9005
	CreateGroup   = 9007
	DeleteGroup   = 9008
	CreateInvite  = 9009
	JoinRequest   = 9021
	LeaveRequest  = 9022
	baselineFirst = 9000
	baselineLast  = 9030
)

// Secure (NIP-EE) kinds.
const (
	KeyPackage       = 443
	Welcome          = 444
	GroupEvent       = 445
	KeyPackageRelays = 10051
)

// Class is the semantic class of a group event kind.
type Class string

const (
	ClassMetadata   Class = "metadata"
	ClassMembership Class = "membership"
	ClassModeration Class = "moderation"
	ClassMessage    Class = "message"
	ClassKeyPackage Class = "key-package"
	ClassInvite     Class = "invite"
	ClassUnknown    Class = "unknown"
)

var classes = map[int]Class{
	Metadata:         ClassMetadata,
	Admins:           ClassMetadata,
	Members:          ClassMetadata,
	Roles:            ClassMetadata,
	PutUser:          ClassMembership,
	RemoveUser:       ClassMembership,
	JoinRequest:      ClassMembership,
	LeaveRequest:     ClassMembership,
	EditMetadata:     ClassModeration,
	DeleteEvent:      ClassModeration,
	CreateGroup:      ClassModeration,
	DeleteGroup:      ClassModeration,
	CreateInvite:     ClassModeration,
	KeyPackage:       ClassKeyPackage,
	KeyPackageRelays: ClassKeyPackage,
	Welcome:          ClassInvite,
	GroupEvent:       ClassMessage,
}

var secure = map[int]bool{
	KeyPackage:       true,
	Welcome:          true,
	GroupEvent:       true,
	KeyPackageRelays: true,
}

// Classify returns the class of kind, or ClassUnknown.
func Classify(kind int) Class {
	if c, ok := classes[kind]; ok {
		return c
	}
	return ClassUnknown
}

// Known reports whether kind is a recognized group kind.
func Known(kind int) bool {
	_, ok := classes[kind]
	return ok
}

// IsSecure reports whether kind belongs to the secure (NIP-EE) family.
func IsSecure(kind int) bool { return secure[kind] }

// IsMetadata reports whether kind is one of the relay-signed metadata kinds.
func IsMetadata(kind int) bool { return Classify(kind) == ClassMetadata }

// ProtocolOf returns the protocol family a projection created from kind runs on.
func ProtocolOf(kind int) model.Protocol {
	if IsMetadata(kind) || (kind >= baselineFirst && kind <= baselineLast) {
		return model.ProtocolBaseline
	}
	return model.ProtocolSecure
}

// MembershipChange reports whether kind changes the member set of a group.
func MembershipChange(kind int) bool {
	switch kind {
	case JoinRequest, LeaveRequest, PutUser, RemoveUser, Welcome:
		return true
	}
	return false
}

// All returns every recognized group kind.
func All() []int {
	out := make([]int, 0, len(classes))
	for k := range classes {
		out = append(out, k)
	}
	return out
}
