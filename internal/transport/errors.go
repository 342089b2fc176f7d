package transport

import "github.com/navcom/groupctl/internal/errs"

// Code classifies an adapter failure.
type Code string

const (
	CodeUnsupported       Code = "GROUP_TRANSPORT_UNSUPPORTED"
	CodeCapabilityBlocked Code = "GROUP_TRANSPORT_CAPABILITY_BLOCKED"
	CodeValidationFailed  Code = "GROUP_TRANSPORT_VALIDATION_FAILED"
	CodeDispatchFailed    Code = "GROUP_TRANSPORT_DISPATCH_FAILED"
)

func (c Code) sentinel() error {
	switch c {
	case CodeUnsupported:
		return errs.ErrUnsupported
	case CodeCapabilityBlocked:
		return errs.ErrCapabilityBlocked
	case CodeValidationFailed:
		return errs.ErrValidation
	case CodeDispatchFailed:
		return errs.ErrDispatchFailed
	}
	return nil
}

// Error is an adapter or dispatch failure. Its message is user facing.
type Error struct {
	Code      Code
	Reason    string // machine reason for validation failures
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the sentinel of the code and the cause.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Code.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func fail(code Code, msg string, retryable bool, cause error) *Error {
	return &Error{Code: code, Message: msg, Retryable: retryable, Err: cause}
}

// PolicyError is a tier policy block.
type PolicyError struct {
	Tier   int
	Reason string
}

func (e *PolicyError) Error() string { return e.Reason }

// Is matches errs.ErrPolicyBlocked.
func (e *PolicyError) Is(target error) bool { return target == errs.ErrPolicyBlocked }
