package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/navcom/groupctl/internal/convert"
)

// Client is a typed control plane client.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// NewClient wraps a connection. token may be empty for public calls.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := convert.ToStruct(req)
	if err != nil {
		return err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return err
	}
	return convert.FromStruct(out, resp)
}

func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResponse, error) {
	var resp DispatchResponse
	err := c.invoke(ctx, MethodDispatch, req, &resp)
	return resp, err
}

func (c *Client) GetProjection(ctx context.Context, groupID string) (ProjectionResponse, error) {
	var resp ProjectionResponse
	err := c.invoke(ctx, MethodGetProjection, GroupRequest{GroupID: groupID}, &resp)
	return resp, err
}

func (c *Client) ListGroups(ctx context.Context) (ListGroupsResponse, error) {
	var resp ListGroupsResponse
	err := c.invoke(ctx, MethodListGroups, struct{}{}, &resp)
	return resp, err
}

func (c *Client) AuditHistory(ctx context.Context, req AuditRequest) (AuditResponse, error) {
	var resp AuditResponse
	err := c.invoke(ctx, MethodAuditHistory, req, &resp)
	return resp, err
}

func (c *Client) ProbeCapability(ctx context.Context, req ProbeRequest) (ProbeResponse, error) {
	var resp ProbeResponse
	err := c.invoke(ctx, MethodProbeCapability, req, &resp)
	return resp, err
}

func (c *Client) RotationStatus(ctx context.Context, groupID string) (RotationStatusResponse, error) {
	var resp RotationStatusResponse
	err := c.invoke(ctx, MethodRotationStatus, GroupRequest{GroupID: groupID}, &resp)
	return resp, err
}

func (c *Client) RevokeDevice(ctx context.Context, req RevokeDeviceRequest) (RevokeDeviceResponse, error) {
	var resp RevokeDeviceResponse
	err := c.invoke(ctx, MethodRevokeDevice, req, &resp)
	return resp, err
}
