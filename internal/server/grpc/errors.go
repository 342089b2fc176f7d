package grpcserver

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/projection"
)

var codeTable = []struct {
	err  error
	code codes.Code
}{
	{errs.ErrValidation, codes.InvalidArgument},
	{errs.ErrPermissionDenied, codes.PermissionDenied},
	{errs.ErrUnauthorized, codes.Unauthenticated},
	{errs.ErrNotFound, codes.NotFound},
	{errs.ErrCapabilityBlocked, codes.FailedPrecondition},
	{errs.ErrPolicyBlocked, codes.FailedPrecondition},
	{errs.ErrVersionConflict, codes.FailedPrecondition},
	{errs.ErrCheckpointUnreadable, codes.FailedPrecondition},
	{projection.ErrStale, codes.FailedPrecondition},
	{errs.ErrUnsupported, codes.Unimplemented},
	{errs.ErrPublishFailed, codes.Unavailable},
	{errs.ErrDispatchFailed, codes.Unavailable},
}

// statusErr maps a service error to a gRPC status error.
func statusErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, e := range codeTable {
		if errors.Is(err, e.err) {
			return status.Error(e.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}
