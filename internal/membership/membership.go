// Package membership implements the membership transition state machine.
//
// Transitions are gated by event recency first, then by actor role, then by
// the transition table. The engine is a pure function over its input.
package membership

import (
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

// Reason is a transition failure code.
type Reason string

const (
	ReasonInvalidTransition Reason = "GROUP_MEMBERSHIP_INVALID_TRANSITION"
	ReasonPermissionDenied  Reason = "GROUP_MEMBERSHIP_PERMISSION_DENIED"
	ReasonStaleEvent        Reason = "GROUP_MEMBERSHIP_STALE_EVENT"
	ReasonDuplicateEvent    Reason = "GROUP_MEMBERSHIP_DUPLICATE_EVENT"
)

// Action is a membership transition action.
type Action string

const (
	JoinRequest Action = "join-request"
	Approve     Action = "approve"
	Reject      Action = "reject"
	Leave       Action = "leave"
	Remove      Action = "remove"
	Restore     Action = "restore"
	SetRole     Action = "set-role"
)

// StateNone is the state of a member without a record.
const StateNone model.MembershipStatus = "none"

var transitions = map[model.MembershipStatus]map[Action]model.MembershipStatus{
	StateNone: {
		JoinRequest: model.StatusPending,
		Approve:     model.StatusActive,
	},
	model.StatusPending: {
		Approve: model.StatusActive,
		Reject:  model.StatusRemoved,
		Leave:   model.StatusLeft,
		Remove:  model.StatusRemoved,
	},
	model.StatusActive: {
		Leave:   model.StatusLeft,
		Remove:  model.StatusRemoved,
		SetRole: model.StatusActive,
	},
	model.StatusRemoved: {
		Restore: model.StatusPending,
	},
	model.StatusLeft: {
		JoinRequest: model.StatusPending,
		Approve:     model.StatusActive,
	},
}

var minRole = map[Action]model.Role{
	Approve: model.RoleAdmin,
	Reject:  model.RoleAdmin,
	Restore: model.RoleAdmin,
	SetRole: model.RoleAdmin,
	Remove:  model.RoleModerator,
}

// Next returns the target status of action from state, if defined.
func Next(state model.MembershipStatus, action Action) (model.MembershipStatus, bool) {
	next, ok := transitions[state][action]
	return next, ok
}

// Allowed reports whether role may perform action.
func Allowed(role model.Role, action Action) bool {
	min, gated := minRole[action]
	return !gated || role.AtLeast(min)
}

// Error is a rejected transition.
type Error struct {
	Reason  Reason
	Current *model.Membership
}

func (e *Error) Error() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return "membership: permission denied"
	case ReasonStaleEvent:
		return "membership: stale event"
	case ReasonDuplicateEvent:
		return "membership: duplicate event"
	default:
		return "membership: invalid transition"
	}
}

// Is maps permission failures to errs.ErrPermissionDenied and the rest to errs.ErrValidation.
func (e *Error) Is(target error) bool {
	if e.Reason == ReasonPermissionDenied {
		return target == errs.ErrPermissionDenied
	}
	return target == errs.ErrValidation
}

// Input describes one transition request.
type Input struct {
	GroupID       string
	Pubkey        string
	Action        Action
	ActorRole     model.Role
	EventAt       int64
	EventID       string
	Current       *model.Membership // nil when the member has no record
	RequestedRole model.Role        // used by set-role
}

// Result is a successful transition.
type Result struct {
	Changed    bool
	Membership model.Membership
}

// Recency orders an update against the current record.
// Duplicate is set when the event id equals the current one.
func Recency(current *model.Membership, at int64, eventID string) (newer, duplicate bool) {
	if current == nil {
		return true, false
	}
	if eventID == current.EventID {
		return false, true
	}
	return model.Stamp{At: at, EventID: eventID}.After(model.Stamp{At: current.UpdatedAt, EventID: current.EventID}), false
}

// Apply evaluates a transition. On failure the error is an *Error.
func Apply(in Input) (Result, error) {
	newer, dup := Recency(in.Current, in.EventAt, in.EventID)
	if dup {
		return Result{}, &Error{Reason: ReasonDuplicateEvent, Current: in.Current}
	}
	if !newer {
		return Result{}, &Error{Reason: ReasonStaleEvent, Current: in.Current}
	}
	if !Allowed(in.ActorRole, in.Action) {
		return Result{}, &Error{Reason: ReasonPermissionDenied, Current: in.Current}
	}

	state := StateNone
	role := model.RoleMember
	if in.Current != nil {
		state = in.Current.Status
		if in.Current.Role != "" {
			role = in.Current.Role
		}
	}
	next, ok := Next(state, in.Action)
	if !ok {
		return Result{}, &Error{Reason: ReasonInvalidTransition, Current: in.Current}
	}
	if in.Action == SetRole && in.RequestedRole != "" {
		role = in.RequestedRole
	}

	m := model.Membership{
		GroupID:   in.GroupID,
		Pubkey:    in.Pubkey,
		Role:      role,
		Status:    next,
		UpdatedAt: in.EventAt,
		EventID:   in.EventID,
	}
	changed := in.Current == nil ||
		in.Current.Status != m.Status ||
		in.Current.Role != m.Role ||
		in.Current.UpdatedAt != m.UpdatedAt ||
		in.Current.EventID != m.EventID
	return Result{Changed: changed, Membership: m}, nil
}
