// Package feedback turns dispatch results and errors into command outcomes
// with stable reason codes and user messages.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

// Reason is a command failure code.
type Reason string

const (
	ReasonPermissionDenied  Reason = "GROUP_COMMAND_PERMISSION_DENIED"
	ReasonInvalidInput      Reason = "GROUP_COMMAND_INVALID_INPUT"
	ReasonCapabilityBlocked Reason = "GROUP_COMMAND_CAPABILITY_BLOCKED"
	ReasonPolicyBlocked     Reason = "GROUP_COMMAND_POLICY_BLOCKED"
	ReasonPublishFailed     Reason = "GROUP_COMMAND_PUBLISH_FAILED"
	ReasonUnsupported       Reason = "GROUP_COMMAND_UNSUPPORTED"
	ReasonUnknown           Reason = "GROUP_COMMAND_UNKNOWN"
)

var messages = map[Reason]string{
	ReasonPermissionDenied:  "You are not allowed to perform this group action.",
	ReasonInvalidInput:      "Group input is invalid. Review fields and try again.",
	ReasonCapabilityBlocked: "Requested secure capability is unavailable for this group or relay set.",
	ReasonPolicyBlocked:     "Group policy prevents this mode selection until tier requirements are satisfied.",
	ReasonPublishFailed:     "Failed to publish to relays. Retry when relay health improves.",
	ReasonUnsupported:       "This transport does not support the requested operation.",
	ReasonUnknown:           "The action failed unexpectedly. Retry or check relay diagnostics.",
}

// UIMessage returns the user message of a reason.
func UIMessage(r Reason) string {
	if m, ok := messages[r]; ok {
		return m
	}
	return messages[ReasonUnknown]
}

// Ack summarizes relay acknowledgements.
type Ack struct {
	OK          bool     `json:"ok"`
	AckCount    int      `json:"ackCount"`
	RelayCount  int      `json:"relayCount"`
	AckedRelays []string `json:"ackedRelays"`
}

// NormalizeAck reads acked relays from the first non-empty of AckedRelays,
// PublishedTo and Relays.
func NormalizeAck(r model.Receipt) Ack {
	relays := r.AckedRelays
	if len(relays) == 0 {
		relays = r.PublishedTo
	}
	if len(relays) == 0 {
		relays = r.Relays
	}
	if len(relays) == 0 {
		return Ack{AckedRelays: []string{}}
	}
	return Ack{
		OK:          true,
		AckCount:    len(relays),
		RelayCount:  len(relays),
		AckedRelays: append([]string(nil), relays...),
	}
}

// Outcome is the result of a command. Reason, Message and Retryable are set
// when OK is false.
type Outcome struct {
	OK        bool          `json:"ok"`
	Ack       Ack           `json:"ack"`
	Receipt   model.Receipt `json:"receipt"`
	Reason    Reason        `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
	Retryable bool          `json:"retryable"`
	Err       error         `json:"-"`
}

// Success wraps a receipt.
func Success(r model.Receipt) Outcome {
	return Outcome{OK: true, Ack: NormalizeAck(r), Receipt: r}
}

type rule struct {
	sentinel  error
	substr    []string
	reason    Reason
	retryable bool
}

// Sentinels are checked first, then lowercase message substrings, in order.
var rules = []rule{
	{errs.ErrPermissionDenied, []string{"permission denied"}, ReasonPermissionDenied, false},
	{errs.ErrValidation, []string{"invalid"}, ReasonInvalidInput, false},
	{errs.ErrCapabilityBlocked, []string{"capability gate"}, ReasonCapabilityBlocked, false},
	{errs.ErrPolicyBlocked, []string{"tier policy blocked"}, ReasonPolicyBlocked, false},
	{errs.ErrUnsupported, nil, ReasonUnsupported, false},
	{errs.ErrPublishFailed, []string{"publish", "relay"}, ReasonPublishFailed, true},
	{errs.ErrDispatchFailed, nil, ReasonPublishFailed, true},
}

// MapError classifies err. A nil error maps to an OK outcome.
func MapError(err error) Outcome {
	if err == nil {
		return Outcome{OK: true}
	}
	out := Outcome{Message: err.Error(), Err: err}
	for _, r := range rules {
		if errors.Is(err, r.sentinel) {
			out.Reason, out.Retryable = r.reason, r.retryable
			return out
		}
	}
	msg := strings.ToLower(err.Error())
	for _, r := range rules {
		for _, s := range r.substr {
			if strings.Contains(msg, s) {
				out.Reason, out.Retryable = r.reason, r.retryable
				return out
			}
		}
	}
	out.Reason, out.Retryable = ReasonUnknown, true
	return out
}

// From builds the outcome of a receipt and error pair.
func From(r model.Receipt, err error) Outcome {
	if err != nil {
		return MapError(err)
	}
	return Success(r)
}

// Retry runs fn and reruns it up to retries more times while the outcome is
// retryable and ctx is live.
func Retry(ctx context.Context, retries int, fn func(context.Context) Outcome) Outcome {
	last := fn(ctx)
	for i := 0; i < retries && !last.OK && last.Retryable; i++ {
		if ctx.Err() != nil {
			return last
		}
		last = fn(ctx)
	}
	return last
}

// CreateMessage is the user message after a create command.
func CreateMessage(o Outcome) string {
	if !o.OK {
		return UIMessage(o.Reason)
	}
	if o.Ack.OK {
		return fmt.Sprintf("Group created with %d relay acknowledgements.", o.Ack.AckCount)
	}
	return "Group created, awaiting relay acknowledgements."
}
