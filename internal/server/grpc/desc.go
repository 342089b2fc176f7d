package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "groupctl.v1.ControlPlane"

// Method names of the control plane.
const (
	MethodDispatch        = "Dispatch"
	MethodGetProjection   = "GetProjection"
	MethodListGroups      = "ListGroups"
	MethodAuditHistory    = "AuditHistory"
	MethodProbeCapability = "ProbeCapability"
	MethodRotationStatus  = "RotationStatus"
	MethodRevokeDevice    = "RevokeDevice"
)

// FullMethod returns the wire path of a method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// ControlPlaneServer is the server API. Messages are JSON objects carried
// as google.protobuf.Struct.
type ControlPlaneServer interface {
	Dispatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetProjection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListGroups(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AuditHistory(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ProbeCapability(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RotationStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeDevice(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(ControlPlaneServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ControlPlaneServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the control plane for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodDispatch, ControlPlaneServer.Dispatch),
		unary(MethodGetProjection, ControlPlaneServer.GetProjection),
		unary(MethodListGroups, ControlPlaneServer.ListGroups),
		unary(MethodAuditHistory, ControlPlaneServer.AuditHistory),
		unary(MethodProbeCapability, ControlPlaneServer.ProbeCapability),
		unary(MethodRotationStatus, ControlPlaneServer.RotationStatus),
		unary(MethodRevokeDevice, ControlPlaneServer.RevokeDevice),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "groupctl/v1/control_plane.proto",
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv ControlPlaneServer) {
	s.RegisterService(&ServiceDesc, srv)
}
