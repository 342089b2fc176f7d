package grpcserver

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	"github.com/navcom/groupctl/internal/rotation"
	"github.com/navcom/groupctl/internal/service"
)

const testNow = int64(1_700_000_000)

var (
	adminKey  = strings.Repeat("a", 64)
	memberKey = strings.Repeat("d", 64)
)

type fakeCommands struct {
	mu   sync.Mutex
	got  []service.Command
	who  []service.Actor
	fail error
}

func (f *fakeCommands) Execute(_ context.Context, a service.Actor, cmd service.Command) feedback.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, cmd)
	f.who = append(f.who, a)
	if f.fail != nil {
		return feedback.MapError(f.fail)
	}
	return feedback.Success(model.Receipt{EventID: "ev1", AckedRelays: []string{"wss://r1"}})
}

type fakeProjections struct {
	groups map[string]model.Projection
}

func (f *fakeProjections) Projection(_ context.Context, id string) (model.Projection, error) {
	p, ok := f.groups[id]
	if !ok {
		return model.Projection{}, errs.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjections) List() []projection.Summary {
	return projection.List(f.groups, testNow, 0)
}

func (f *fakeProjections) AuditHistory(ctx context.Context, id string, q projection.AuditQuery) (projection.AuditPage, error) {
	p, err := f.Projection(ctx, id)
	if err != nil {
		return projection.AuditPage{}, err
	}
	return projection.AuditHistory(p, q), nil
}

type fakeProber struct{}

func (fakeProber) Snapshot(_ context.Context, _ capability.Trigger, url string) (model.CapabilitySnapshot, error) {
	if url == "wss://down" {
		return model.CapabilitySnapshot{}, fmt.Errorf("%w: dial", errs.ErrDispatchFailed)
	}
	return model.CapabilitySnapshot{RelayURL: url, CheckedAt: testNow, Readiness: model.R2, Reasons: []string{string(capability.ReasonUnstableAck)}}, nil
}

func (p fakeProber) Weakest(ctx context.Context, t capability.Trigger, relays []string) (*model.CapabilitySnapshot, error) {
	s, err := p.Snapshot(ctx, t, relays[0])
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type fakeRemediator struct{ fail bool }

func (f fakeRemediator) Remediate(_ context.Context, _ service.Actor, in service.RemediateInput) (service.RemediateResult, error) {
	if f.fail {
		out := feedback.MapError(errs.ErrPermissionDenied)
		return service.RemediateResult{Removal: out}, fmt.Errorf("membership remediation: %w", out.Err)
	}
	job := model.RotationJob{GroupID: in.GroupID, KeyID: "k1", Trigger: model.TriggerCompromiseSuspected, Status: model.JobPending}
	res := service.RemediateResult{OK: true, MembershipRemediated: true, RotationScheduled: true, RotationJob: &job}
	res.Revocation = keys.RevokeResult{OK: true, RevokedKeyCount: 2, Audit: keys.RevocationAudit{CorrelationID: "corr"}}
	return res, nil
}

type harness struct {
	cmds   *fakeCommands
	seen   []model.Action
	tokens *service.Tokens
	conn   *grpc.ClientConn
}

func (h *harness) client(t *testing.T, a service.Actor) *Client {
	t.Helper()
	tok, _, err := h.tokens.Issue(a)
	require.NoError(t, err)
	return NewClient(h.conn, tok)
}

func newHarness(t *testing.T, rem Remediator) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)

	group := projection.Empty(model.GroupEntity{ID: "relay.example'ops", Title: "Ops", CreatedAt: testNow - 10, UpdatedAt: testNow - 10})
	group.Members[adminKey] = model.Membership{GroupID: group.Group.ID, Pubkey: adminKey, Role: model.RoleAdmin, Status: model.StatusActive}
	group.Audit = []model.AuditEvent{
		{GroupID: group.Group.ID, Action: "put-member", Actor: adminKey, CreatedAt: testNow - 5, EventID: "e2"},
		{GroupID: group.Group.ID, Action: "create", Actor: adminKey, CreatedAt: testNow - 10, EventID: "e1"},
	}

	sched := rotation.NewScheduler(rotation.DefaultPolicy(), func() int64 { return testNow })
	sched.Schedule(group.Group.ID, "k1", model.TriggerManual, testNow)
	reg := keys.NewRegistry(func() int64 { return testNow })
	reg.Register(keys.RegisterInput{GroupID: group.Group.ID, KeyID: "k1", SecretClass: model.SecretS3})

	h := &harness{cmds: &fakeCommands{}, tokens: service.NewTokens([]byte("test-key"), time.Hour)}
	srv := New(Deps{
		Commands:    h.cmds,
		Projections: &fakeProjections{groups: map[string]model.Projection{group.Group.ID: group}},
		Prober:      fakeProber{},
		Remediation: rem,
		Rotations:   sched,
		Keys:        reg,
		Relays:      []string{"wss://r1"},
		Now:         func() int64 { return testNow },
		OnCommand:   func(a model.Action, _ feedback.Outcome) { h.seen = append(h.seen, a) },
	}, log)

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		AuthUnary(h.tokens),
		LoggingUnary(log),
	))
	Register(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	h.conn = conn
	return h
}

func TestServer_RequiresToken(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	_, err := NewClient(h.conn, "").ListGroups(context.Background())
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = NewClient(h.conn, "garbage").ListGroups(context.Background())
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestServer_Dispatch(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	c := h.client(t, service.Actor{Pubkey: adminKey, Role: model.RoleAdmin})

	tier := model.Tier1
	resp, err := c.Dispatch(context.Background(), DispatchRequest{
		Action:        model.ActionCreate,
		Payload:       model.Payload{GroupID: "relay.example'new", Title: "New"},
		RequestedMode: model.ModeBaseline,
		Tier:          &tier,
		Retries:       2,
	})
	require.NoError(t, err)
	require.True(t, resp.Outcome.OK)
	require.Equal(t, "ev1", resp.Outcome.Receipt.EventID)
	require.Equal(t, feedback.CreateMessage(resp.Outcome), resp.UIMessage)

	require.Len(t, h.cmds.got, 1)
	got := h.cmds.got[0]
	require.Equal(t, model.ActionCreate, got.Action)
	require.Equal(t, "New", got.Payload.Title)
	require.NotNil(t, got.Tier)
	require.Equal(t, model.Tier1, *got.Tier)
	require.Equal(t, 2, got.Retries)
	require.Equal(t, adminKey, h.cmds.who[0].Pubkey)
	require.Equal(t, model.RoleAdmin, h.cmds.who[0].Role)
	require.Equal(t, []model.Action{model.ActionCreate}, h.seen)
}

func TestServer_DispatchFailureIsOutcome(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	h.cmds.fail = fmt.Errorf("%w: members cannot remove", errs.ErrPermissionDenied)
	c := h.client(t, service.Actor{Pubkey: memberKey, Role: model.RoleMember})

	resp, err := c.Dispatch(context.Background(), DispatchRequest{
		Action:  model.ActionRemoveMember,
		Payload: model.Payload{GroupID: "relay.example'ops", MemberPubkey: adminKey},
	})
	require.NoError(t, err)
	require.False(t, resp.Outcome.OK)
	require.Equal(t, feedback.ReasonPermissionDenied, resp.Outcome.Reason)
	require.False(t, resp.Outcome.Retryable)
}

func TestServer_ProjectionAndList(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	c := h.client(t, service.Actor{Pubkey: memberKey, Role: model.RoleMember})
	ctx := context.Background()

	list, err := c.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, list.Groups, 1)
	require.Equal(t, "Ops", list.Groups[0].Title)
	require.Equal(t, 1, list.Groups[0].MemberCount)

	p, err := c.GetProjection(ctx, "relay.example'ops")
	require.NoError(t, err)
	require.Equal(t, "relay.example'ops", p.Projection.Group.ID)
	require.Contains(t, p.Projection.Members, adminKey)
	require.Equal(t, "Ops", p.Summary.Title)

	_, err = c.GetProjection(ctx, "relay.example'missing")
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.GetProjection(ctx, "")
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_AuditHistory(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	c := h.client(t, service.Actor{Pubkey: adminKey, Role: model.RoleAdmin})

	resp, err := c.AuditHistory(context.Background(), AuditRequest{GroupID: "relay.example'ops", PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Page.Total)
	require.Len(t, resp.Page.Items, 1)
	require.Equal(t, "put-member", resp.Page.Items[0].Action)
	require.True(t, resp.Page.HasMore)

	self, err := c.AuditHistory(context.Background(), AuditRequest{GroupID: "relay.example'ops", Actor: projection.ActorsSelf})
	require.NoError(t, err)
	require.Equal(t, 2, self.Page.Total)
}

func TestServer_ProbeCapability(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	c := h.client(t, service.Actor{Pubkey: adminKey, Role: model.RoleAdmin})

	resp, err := c.ProbeCapability(context.Background(), ProbeRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Snapshots, 1)
	require.Equal(t, "wss://r1", resp.Snapshots[0].RelayURL)
	require.NotNil(t, resp.Weakest)
	require.Equal(t, model.R2, resp.Weakest.Readiness)
	require.Len(t, resp.Messages, 1)
	require.Equal(t, string(capability.ReasonUnstableAck), resp.Messages[0].Code)

	_, err = c.ProbeCapability(context.Background(), ProbeRequest{Relays: []string{"wss://down"}})
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestServer_RotationStatus(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	c := h.client(t, service.Actor{Pubkey: adminKey, Role: model.RoleAdmin})

	resp, err := c.RotationStatus(context.Background(), "relay.example'ops")
	require.NoError(t, err)
	require.Len(t, resp.Jobs, 1)
	require.Equal(t, "k1", resp.Jobs[0].KeyID)
	require.Len(t, resp.Keys, 1)

	all, err := c.RotationStatus(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, all.Jobs, 1)
	require.Empty(t, all.Keys)
}

func TestServer_RevokeDevice(t *testing.T) {
	h := newHarness(t, fakeRemediator{})
	c := h.client(t, service.Actor{Pubkey: adminKey, Role: model.RoleAdmin})

	resp, err := c.RevokeDevice(context.Background(), RevokeDeviceRequest{GroupID: "relay.example'ops", CompromisedPubkey: memberKey})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, 2, resp.RevokedKeyCount)
	require.Equal(t, "corr", resp.CorrelationID)
	require.True(t, resp.RotationScheduled)
	require.NotNil(t, resp.RotationJob)

	_, err = c.RevokeDevice(context.Background(), RevokeDeviceRequest{GroupID: "relay.example'ops"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_RevokeDeviceRemovalFailure(t *testing.T) {
	h := newHarness(t, fakeRemediator{fail: true})
	c := h.client(t, service.Actor{Pubkey: memberKey, Role: model.RoleMember})

	resp, err := c.RevokeDevice(context.Background(), RevokeDeviceRequest{GroupID: "relay.example'ops", CompromisedPubkey: adminKey})
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.False(t, resp.MembershipRemediated)
	require.Equal(t, feedback.ReasonPermissionDenied, resp.Removal.Reason)
}

func TestServer_UnconfiguredIsUnimplemented(t *testing.T) {
	s := New(Deps{}, nil)
	ctx := WithActor(context.Background(), service.Actor{Pubkey: adminKey, Role: model.RoleAdmin})
	_, err := s.RevokeDevice(ctx, nil)
	require.Equal(t, codes.Unimplemented, status.Code(err))
	_, err = s.ListGroups(ctx, nil)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestStatusErr(t *testing.T) {
	cases := map[error]codes.Code{
		errs.ErrValidation:                             codes.InvalidArgument,
		fmt.Errorf("x: %w", errs.ErrPermissionDenied):  codes.PermissionDenied,
		errs.ErrNotFound:                               codes.NotFound,
		projection.ErrStale:                            codes.FailedPrecondition,
		fmt.Errorf("load: %w", errs.ErrVersionConflict): codes.FailedPrecondition,
		errs.ErrPublishFailed:                          codes.Unavailable,
		errs.ErrUnsupported:                            codes.Unimplemented,
		fmt.Errorf("boom"):                             codes.Internal,
	}
	for err, want := range cases {
		require.Equal(t, want, status.Code(statusErr(err)), err.Error())
	}
	require.NoError(t, statusErr(nil))
	already := status.Error(codes.Aborted, "x")
	require.Equal(t, codes.Aborted, status.Code(statusErr(already)))
}
