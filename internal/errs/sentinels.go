// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Control-plane failure classes. Messages keep the substrings matched by
// the command feedback mapper.
var (
	// ErrValidation indicates malformed intent or input; the caller must fix the input.
	ErrValidation = errors.New("invalid input")

	// ErrCapabilityBlocked indicates the requested mode is unavailable and fallback is disallowed.
	ErrCapabilityBlocked = errors.New("capability gate blocked")

	// ErrPolicyBlocked indicates the mission tier policy rejected the resolved mode.
	ErrPolicyBlocked = errors.New("tier policy blocked")

	// ErrDispatchFailed indicates a transient adapter/relay failure.
	ErrDispatchFailed = errors.New("relay dispatch failed")

	// ErrPublishFailed indicates the publisher could not reach any relay.
	ErrPublishFailed = errors.New("publish failed")

	// ErrUnsupported indicates the adapter does not implement the operation.
	ErrUnsupported = errors.New("unsupported operation")

	// ErrPermissionDenied indicates the actor role is insufficient.
	ErrPermissionDenied = errors.New("permission denied")
)

// Storage and access sentinels.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates an optimistic concurrency failure.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrKeyTerminal indicates a key already reached an absorbing status.
	ErrKeyTerminal = errors.New("key state is terminal")

	// ErrCheckpointUnreadable indicates a checkpoint with an unknown version or shape.
	ErrCheckpointUnreadable = errors.New("checkpoint unreadable")
)
