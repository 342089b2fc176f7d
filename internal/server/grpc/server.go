// Package grpcserver exposes the group control plane over gRPC.
package grpcserver

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/convert"
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	"github.com/navcom/groupctl/internal/service"
)

// CommandRunner executes group commands.
type CommandRunner interface {
	Execute(ctx context.Context, actor service.Actor, cmd service.Command) feedback.Outcome
}

// Projections reads group state.
type Projections interface {
	Projection(ctx context.Context, groupID string) (model.Projection, error)
	List() []projection.Summary
	AuditHistory(ctx context.Context, groupID string, q projection.AuditQuery) (projection.AuditPage, error)
}

// CapabilityProber returns relay capability snapshots.
type CapabilityProber interface {
	Snapshot(ctx context.Context, t capability.Trigger, relayURL string) (model.CapabilitySnapshot, error)
	Weakest(ctx context.Context, t capability.Trigger, relays []string) (*model.CapabilitySnapshot, error)
}

// Remediator handles compromised devices.
type Remediator interface {
	Remediate(ctx context.Context, actor service.Actor, in service.RemediateInput) (service.RemediateResult, error)
}

// RotationView reads rotation jobs.
type RotationView interface {
	Get(groupID string) (model.RotationJob, bool)
	List() []model.RotationJob
}

// KeyView reads key lifecycle state.
type KeyView interface {
	List(groupID string) []model.KeyState
}

// Deps are the services behind the control plane. Nil services make their
// methods return Unimplemented.
type Deps struct {
	Commands    CommandRunner
	Projections Projections
	Prober      CapabilityProber
	Remediation Remediator
	Rotations   RotationView
	Keys        KeyView
	Relays      []string // default probe set
	StaleAfter  int64
	Now         func() int64
	// OnCommand observes every dispatched command.
	OnCommand func(model.Action, feedback.Outcome)
}

// Server implements ControlPlaneServer.
type Server struct {
	d   Deps
	log *zap.Logger
}

var _ ControlPlaneServer = (*Server)(nil)

// New constructs a control plane server.
func New(d Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() int64 { return time.Now().Unix() }
	}
	return &Server{d: d, log: log}
}

func decode(in *structpb.Struct, out any) error {
	if err := convert.FromStruct(in, out); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	s, err := convert.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return s, nil
}

func actor(ctx context.Context) (service.Actor, error) {
	a, ok := ActorFromCtx(ctx)
	if !ok {
		return service.Actor{}, status.Error(codes.Unauthenticated, "unauthenticated")
	}
	return a, nil
}

func unimplemented(what string) error {
	return status.Error(codes.Unimplemented, what+" not configured")
}

func requireGroup(id string) error {
	if id == "" {
		return status.Error(codes.InvalidArgument, "groupId required")
	}
	return nil
}

// Dispatch runs one group command for the caller.
func (s *Server) Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Commands == nil {
		return nil, unimplemented("commands")
	}
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req DispatchRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	cmd := service.Command{
		Action:             req.Action,
		Payload:            req.Payload,
		RequestedMode:      req.RequestedMode,
		Tier:               req.Tier,
		DowngradeConfirmed: req.DowngradeConfirmed,
		AllowTier2Override: req.AllowTier2Override,
		DisallowFallback:   req.DisallowFallback,
		Retries:            req.Retries,
	}
	out := s.d.Commands.Execute(ctx, a, cmd)
	if s.d.OnCommand != nil {
		s.d.OnCommand(req.Action, out)
	}
	resp := DispatchResponse{Outcome: out, UIMessage: out.Message}
	if req.Action == model.ActionCreate {
		resp.UIMessage = feedback.CreateMessage(out)
	}
	if !out.OK {
		s.log.Info("dispatch rejected",
			zap.String("action", string(req.Action)),
			zap.String("group", req.Payload.GroupID),
			zap.String("reason", string(out.Reason)))
	}
	return encode(resp)
}

// GetProjection returns one group projection.
func (s *Server) GetProjection(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Projections == nil {
		return nil, unimplemented("projections")
	}
	var req GroupRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireGroup(req.GroupID); err != nil {
		return nil, err
	}
	p, err := s.d.Projections.Projection(ctx, req.GroupID)
	if err != nil {
		return nil, statusErr(err)
	}
	return encode(ProjectionResponse{
		Projection: p,
		Summary:    projection.Summarize(p, s.d.Now(), s.d.StaleAfter),
	})
}

// ListGroups summarizes every loaded group.
func (s *Server) ListGroups(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Projections == nil {
		return nil, unimplemented("projections")
	}
	groups := s.d.Projections.List()
	if groups == nil {
		groups = []projection.Summary{}
	}
	return encode(ListGroupsResponse{Groups: groups})
}

// AuditHistory returns one page of a group's audit trail as seen by the caller.
func (s *Server) AuditHistory(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Projections == nil {
		return nil, unimplemented("projections")
	}
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req AuditRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireGroup(req.GroupID); err != nil {
		return nil, err
	}
	page, err := s.d.Projections.AuditHistory(ctx, req.GroupID, projection.AuditQuery{
		Self:     a.Pubkey,
		Cursor:   req.Cursor,
		PageSize: req.PageSize,
		Action:   req.Action,
		Actor:    req.Actor,
	})
	if err != nil {
		return nil, statusErr(err)
	}
	return encode(AuditResponse{Page: page})
}

// ProbeCapability snapshots each relay and reports the weakest.
func (s *Server) ProbeCapability(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Prober == nil {
		return nil, unimplemented("capability prober")
	}
	var req ProbeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	relays := req.Relays
	if len(relays) == 0 {
		relays = s.d.Relays
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = capability.TriggerManual
	}

	resp := ProbeResponse{Snapshots: []model.CapabilitySnapshot{}}
	var reasons []string
	for _, url := range relays {
		snap, err := s.d.Prober.Snapshot(ctx, trigger, url)
		if err != nil {
			s.log.Warn("probe failed", zap.String("relay", url), zap.Error(err))
			continue
		}
		resp.Snapshots = append(resp.Snapshots, snap)
		reasons = append(reasons, snap.Reasons...)
	}
	resp.Messages = capability.MapReasons(reasons)

	weakest, err := s.d.Prober.Weakest(ctx, trigger, relays)
	if err != nil {
		return nil, statusErr(fmt.Errorf("weakest snapshot: %w", err))
	}
	resp.Weakest = weakest
	return encode(resp)
}

// RotationStatus reports the rotation job of one group, or every job.
func (s *Server) RotationStatus(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Rotations == nil {
		return nil, unimplemented("rotation scheduler")
	}
	var req GroupRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	resp := RotationStatusResponse{Jobs: []model.RotationJob{}}
	if req.GroupID == "" {
		resp.Jobs = append(resp.Jobs, s.d.Rotations.List()...)
		return encode(resp)
	}
	if job, ok := s.d.Rotations.Get(req.GroupID); ok {
		resp.Jobs = append(resp.Jobs, job)
	}
	if s.d.Keys != nil {
		resp.Keys = s.d.Keys.List(req.GroupID)
	}
	return encode(resp)
}

// RevokeDevice removes a compromised member, revokes the group keys and
// schedules rotation.
func (s *Server) RevokeDevice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Remediation == nil {
		return nil, unimplemented("remediation")
	}
	a, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	var req RevokeDeviceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := requireGroup(req.GroupID); err != nil {
		return nil, err
	}
	if req.CompromisedPubkey == "" {
		return nil, statusErr(fmt.Errorf("%w: compromisedPubkey required", errs.ErrValidation))
	}
	res, err := s.d.Remediation.Remediate(ctx, a, service.RemediateInput{
		GroupID:           req.GroupID,
		CompromisedPubkey: req.CompromisedPubkey,
		Reason:            req.Reason,
		RequestedMode:     req.RequestedMode,
	})
	resp := RevokeDeviceResponse{
		OK:                   res.OK,
		MembershipRemediated: res.MembershipRemediated,
		Removal:              res.Removal,
		RevokedKeyCount:      res.Revocation.RevokedKeyCount,
		CorrelationID:        res.Revocation.Audit.CorrelationID,
		RotationScheduled:    res.RotationScheduled,
		RotationJob:          res.RotationJob,
	}
	if err != nil {
		// The removal outcome explains the failure, so the call itself succeeds.
		s.log.Warn("remediation stopped", zap.String("group", req.GroupID), zap.Error(err))
	}
	return encode(resp)
}
