package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/limiter"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	"github.com/navcom/groupctl/internal/repository"
	"github.com/navcom/groupctl/internal/rotation"
	"github.com/navcom/groupctl/internal/tierpolicy"
	"github.com/navcom/groupctl/internal/transport"
)

var (
	admin = Actor{Pubkey: strings.Repeat("a", 64), Role: model.RoleAdmin}
	mod   = Actor{Pubkey: strings.Repeat("c", 64), Role: model.RoleModerator}
	plain = Actor{Pubkey: strings.Repeat("d", 64), Role: model.RoleMember}
	bob   = strings.Repeat("b", 64)
)

func clock(t int64) func() int64 { return func() int64 { return t } }

/************ fakes ************/

type fakeDispatcher struct {
	mu      sync.Mutex
	intents []model.Intent
	opts    []transport.Options
	results []error
	res     transport.Result
}

func (f *fakeDispatcher) Dispatch(_ context.Context, in model.Intent, opts transport.Options) (transport.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents = append(f.intents, in)
	f.opts = append(f.opts, opts)
	var err error
	if len(f.results) > 0 {
		err, f.results = f.results[0], f.results[1:]
	}
	if err != nil {
		return transport.Result{}, err
	}
	return f.res, nil
}

type fakeCaps struct {
	snap *model.CapabilitySnapshot
	err  error
	trig capability.Trigger
}

func (f *fakeCaps) Weakest(_ context.Context, t capability.Trigger, _ []string) (*model.CapabilitySnapshot, error) {
	f.trig = t
	return f.snap, f.err
}

type memCheckpoints struct {
	mu    sync.Mutex
	byID  map[string]projection.Checkpoint
	saves int
	err   error
}

var _ repository.CheckpointRepository = (*memCheckpoints)(nil)

func newMemCheckpoints() *memCheckpoints {
	return &memCheckpoints{byID: map[string]projection.Checkpoint{}}
}

func (m *memCheckpoints) Save(_ context.Context, c projection.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.byID[c.Group.ID] = c
	return nil
}

func (m *memCheckpoints) Load(_ context.Context, groupID string) (projection.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return projection.Checkpoint{}, m.err
	}
	c, ok := m.byID[groupID]
	if !ok {
		return projection.Checkpoint{}, errs.ErrNotFound
	}
	return c, nil
}

func (m *memCheckpoints) List(context.Context) ([]projection.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []projection.Checkpoint
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out, nil
}

type memAudits struct {
	mu      sync.Mutex
	entries []model.AuditEvent
	err     error
}

var _ repository.AuditRepository = (*memAudits)(nil)

func (m *memAudits) Append(_ context.Context, e model.AuditEvent) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return uuid.Nil, m.err
	}
	m.entries = append(m.entries, e)
	return uuid.Must(uuid.NewV4()), nil
}

func (m *memAudits) ListByGroup(_ context.Context, groupID string, _ int) ([]model.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditEvent
	for _, e := range m.entries {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

type reconcilerFunc func(ctx context.Context, in transport.ReconcileInput) (model.Projection, error)

func (f reconcilerFunc) Reconcile(ctx context.Context, in transport.ReconcileInput) (model.Projection, error) {
	return f(ctx, in)
}

func mk(id string, kind int, at int64, tags ...nostr.Tag) model.Event {
	return model.Event{ID: id, Kind: kind, CreatedAt: nostr.Timestamp(at), PubKey: admin.Pubkey, Tags: tags}
}

func receipt() transport.Result {
	return transport.Result{Mode: model.ModeBaseline, Receipt: model.Receipt{EventID: "ev1", AckedRelays: []string{"wss://a", "wss://b"}}}
}

/************ commands ************/

func TestCommands_PermissionDenied(t *testing.T) {
	d := &fakeDispatcher{res: receipt()}
	c := NewCommands(d, nil, nil, nil, CommandDefaults{AllowFallback: true}, nil, clock(100))

	out := c.Execute(context.Background(), plain, Command{Action: model.ActionPutMember, Payload: model.Payload{GroupID: "ops", MemberPubkey: bob}})
	require.False(t, out.OK)
	require.Equal(t, feedback.ReasonPermissionDenied, out.Reason)
	require.False(t, out.Retryable)
	require.Empty(t, d.intents)
}

func TestCommands_Success(t *testing.T) {
	d := &fakeDispatcher{res: receipt()}
	caps := &fakeCaps{snap: &model.CapabilitySnapshot{RelayURL: "wss://a", Readiness: model.R4}}
	c := NewCommands(d, caps, nil, nil, CommandDefaults{Tier: model.Tier1, AllowFallback: true, Relays: []string{"wss://a"}}, nil, clock(100))

	out, msg := c.Create(context.Background(), admin, Command{Payload: model.Payload{GroupID: "ops", Title: "Ops"}})
	require.True(t, out.OK)
	require.Equal(t, 2, out.Ack.AckCount)
	require.Equal(t, "Group created with 2 relay acknowledgements.", msg)

	require.Len(t, d.intents, 1)
	require.Equal(t, model.ActionCreate, d.intents[0].Action)
	require.Equal(t, int64(100), d.intents[0].CreatedAt)
	require.Equal(t, model.ModeBaseline, d.intents[0].RequestedMode)
	require.Equal(t, model.Tier1, d.opts[0].Tier)
	require.False(t, d.opts[0].DisallowFallback)
	require.Same(t, caps.snap, d.opts[0].Snapshot)
	require.Equal(t, capability.TriggerCreate, caps.trig)
}

func TestCommands_TierOverrideAndFallbackDefaults(t *testing.T) {
	d := &fakeDispatcher{res: receipt()}
	c := NewCommands(d, nil, nil, nil, CommandDefaults{Tier: model.Tier0}, nil, clock(1))
	tier := model.Tier2

	out := c.Execute(context.Background(), plain, Command{Action: model.ActionJoin, Tier: &tier, Payload: model.Payload{GroupID: "ops", MemberPubkey: plain.Pubkey}})
	require.True(t, out.OK)
	require.Equal(t, model.Tier2, d.opts[0].Tier)
	require.True(t, d.opts[0].DisallowFallback)
}

func TestCommands_RetriesRetryable(t *testing.T) {
	d := &fakeDispatcher{res: receipt(), results: []error{
		errors.Join(errs.ErrDispatchFailed, errors.New("relay timeout")),
		nil,
	}}
	c := NewCommands(d, nil, nil, nil, CommandDefaults{AllowFallback: true}, nil, clock(1))

	out := c.Execute(context.Background(), admin, Command{Action: model.ActionEditMetadata, Retries: 2, Payload: model.Payload{GroupID: "ops", Title: "x"}})
	require.True(t, out.OK)
	require.Len(t, d.intents, 2)
}

func TestCommands_NoRetryOnPolicyBlock(t *testing.T) {
	d := &fakeDispatcher{results: []error{&transport.PolicyError{Tier: 2, Reason: "blocked"}}}
	c := NewCommands(d, nil, nil, nil, CommandDefaults{AllowFallback: true}, nil, clock(1))

	out := c.Execute(context.Background(), admin, Command{Action: model.ActionEditMetadata, Retries: 3, Payload: model.Payload{GroupID: "ops"}})
	require.False(t, out.OK)
	require.Equal(t, feedback.ReasonPolicyBlocked, out.Reason)
	require.Len(t, d.intents, 1)
}

func TestCommands_OverrideAudited(t *testing.T) {
	res := receipt()
	res.Override = &tierpolicy.OverrideEvent{Action: "tier-override", GroupID: "ops", MissionTier: model.Tier2, ActorRole: model.RoleAdmin, CreatedAt: 7, Reason: "field"}
	d := &fakeDispatcher{res: res}
	audits := &memAudits{}
	auth := NewAuthority(nil, audits, AuthorityOptions{}, nil, clock(7))
	c := NewCommands(d, nil, nil, auth, CommandDefaults{AllowFallback: true}, nil, clock(7))

	out := c.Execute(context.Background(), admin, Command{Action: model.ActionEditMetadata, AllowTier2Override: true, Payload: model.Payload{GroupID: "ops"}})
	require.True(t, out.OK)
	require.True(t, d.opts[0].AllowTier2Override)
	require.Len(t, audits.entries, 1)
	require.Equal(t, "tier-override", audits.entries[0].Action)

	p, err := auth.Projection(context.Background(), "ops")
	require.NoError(t, err)
	require.Len(t, p.Audit, 1)
}

func TestCommands_LockoutAfterRepeatedDenials(t *testing.T) {
	d := &fakeDispatcher{res: receipt()}
	core, logs := observer.New(zapcore.InfoLevel)
	lim := limiter.NewMemory(limiter.Settings{Window: time.Hour, MaxFails: 2, BlockFor: time.Hour}, nil)
	c := NewCommands(d, nil, lim, nil, CommandDefaults{AllowFallback: true}, zap.New(core), clock(1))
	ctx := context.Background()
	cmd := Command{Action: model.ActionRemoveMember, Payload: model.Payload{GroupID: "ops", MemberPubkey: bob}}

	for i := 0; i < 2; i++ {
		out := c.Execute(ctx, plain, cmd)
		require.Equal(t, feedback.ReasonPermissionDenied, out.Reason)
	}
	require.Equal(t, 1, logs.FilterMessage("dispatch locked").Len())

	join := Command{Action: model.ActionJoin, Payload: model.Payload{GroupID: "ops", MemberPubkey: plain.Pubkey}}
	out := c.Execute(ctx, plain, join)
	require.False(t, out.OK)
	require.Equal(t, feedback.ReasonPermissionDenied, out.Reason)
	require.Empty(t, d.intents)

	out = c.Execute(ctx, plain, Command{Action: model.ActionJoin, Payload: model.Payload{GroupID: "other", MemberPubkey: plain.Pubkey}})
	require.True(t, out.OK)
}

/************ authority ************/

func opsEvents() []model.Event {
	return []model.Event{
		mk("m1", groupkind.Metadata, 10, nostr.Tag{"d", "ops"}, nostr.Tag{"name", "Ops"}),
		mk("p1", groupkind.PutUser, 20, nostr.Tag{"h", "ops"}, nostr.Tag{"p", bob}, nostr.Tag{"role", "member"}),
		mk("r1", groupkind.RemoveUser, 30, nostr.Tag{"h", "ops"}, nostr.Tag{"p", bob}),
	}
}

func TestAuthority_IngestLogsDrops(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := NewAuthority(nil, nil, AuthorityOptions{}, zap.New(core), clock(40))

	events := append(opsEvents(),
		mk("bad", groupkind.PutUser, 25, nostr.Tag{"h", "ops"}),
		mk("unknown", 1, 25, nostr.Tag{"h", "ops"}),
	)
	events = append(events, events[1])

	res := a.Ingest(context.Background(), events)
	require.Equal(t, 3, res.Applied)
	require.Equal(t, 3, res.Dropped)

	drops := logs.FilterMessage("event dropped")
	require.Equal(t, 3, drops.Len())
	var reasons []string
	for _, e := range drops.All() {
		if r, ok := e.ContextMap()["reason"]; ok {
			reasons = append(reasons, r.(string))
		}
	}
	require.Len(t, reasons, 2)

	p, err := a.Projection(context.Background(), "ops")
	require.NoError(t, err)
	require.Equal(t, "Ops", p.Group.Title)
	require.Equal(t, model.StatusRemoved, p.Members[bob].Status)
}

func TestAuthority_OrderIndependent(t *testing.T) {
	ev := opsEvents()
	a := NewAuthority(nil, nil, AuthorityOptions{}, nil, clock(40))
	b := NewAuthority(nil, nil, AuthorityOptions{}, nil, clock(40))
	a.Ingest(context.Background(), ev)
	b.Ingest(context.Background(), []model.Event{ev[2], ev[0], ev[1]})

	pa, err := a.Projection(context.Background(), "ops")
	require.NoError(t, err)
	pb, err := b.Projection(context.Background(), "ops")
	require.NoError(t, err)
	require.Equal(t, pa.Members, pb.Members)
	require.Equal(t, pa.Group, pb.Group)
}

func TestAuthority_CheckpointRoundTrip(t *testing.T) {
	cp := newMemCheckpoints()
	a := NewAuthority(cp, nil, AuthorityOptions{StaleAfter: 1000}, nil, clock(40))
	a.Ingest(context.Background(), opsEvents())
	require.NoError(t, a.CheckpointAll(context.Background()))
	require.Equal(t, 1, cp.saves)

	b := NewAuthority(cp, nil, AuthorityOptions{StaleAfter: 1000}, nil, clock(50))
	p, err := b.Projection(context.Background(), "ops")
	require.NoError(t, err)
	require.Equal(t, "Ops", p.Group.Title)
	require.ElementsMatch(t, []string{"m1", "p1", "r1"}, p.RestoredIDs)

	res := b.Ingest(context.Background(), opsEvents()[1:2])
	require.Equal(t, 0, res.Applied)
}

func TestAuthority_WarmAndList(t *testing.T) {
	cp := newMemCheckpoints()
	src := NewAuthority(cp, nil, AuthorityOptions{StaleAfter: 1000}, nil, clock(40))
	src.Ingest(context.Background(), opsEvents())
	require.NoError(t, src.Checkpoint(context.Background(), "ops"))

	dst := NewAuthority(cp, nil, AuthorityOptions{StaleAfter: 1000}, nil, clock(45))
	n, err := dst.Warm(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	list := dst.List()
	require.Len(t, list, 1)
	require.Equal(t, "ops", list[0].ID)
	require.False(t, list[0].Stale)
}

func TestAuthority_StaleCheckpoint(t *testing.T) {
	cp := newMemCheckpoints()
	src := NewAuthority(cp, nil, AuthorityOptions{}, nil, clock(40))
	src.Ingest(context.Background(), opsEvents())
	require.NoError(t, src.CheckpointAll(context.Background()))

	strict := NewAuthority(cp, nil, AuthorityOptions{StaleAfter: 10}, nil, clock(1000))
	_, err := strict.Projection(context.Background(), "ops")
	require.ErrorIs(t, err, projection.ErrStale)

	lenient := NewAuthority(cp, nil, AuthorityOptions{StaleAfter: 10, RecoverStale: true}, nil, clock(1000))
	p, err := lenient.Projection(context.Background(), "ops")
	require.NoError(t, err)
	require.Empty(t, p.Members)
	require.Equal(t, projection.ActionStaleRecovery, p.Audit[0].Action)
}

func TestAuthority_UnknownGroup(t *testing.T) {
	a := NewAuthority(newMemCheckpoints(), nil, AuthorityOptions{}, nil, clock(1))
	_, err := a.Projection(context.Background(), "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = a.AuditHistory(context.Background(), "other", projection.AuditQuery{})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Zero(t, a.groups.Size())
	require.Empty(t, a.List())
}

func TestAuthority_RecordAudit(t *testing.T) {
	audits := &memAudits{}
	a := NewAuthority(nil, audits, AuthorityOptions{}, nil, clock(1))
	require.ErrorIs(t, a.RecordAudit(context.Background(), model.AuditEvent{}), errs.ErrValidation)

	require.NoError(t, a.RecordAudit(context.Background(), model.AuditEvent{GroupID: "ops", Action: "x", Actor: "system", CreatedAt: 5}))
	page, err := a.AuditHistory(context.Background(), "ops", projection.AuditQuery{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Len(t, audits.entries, 1)

	audits.err = errors.New("db down")
	require.Error(t, a.RecordAudit(context.Background(), model.AuditEvent{GroupID: "ops", Action: "y", CreatedAt: 6}))
}

func TestAuthority_Reconcile(t *testing.T) {
	a := NewAuthority(nil, nil, AuthorityOptions{}, nil, clock(1))
	var got transport.ReconcileInput
	r := reconcilerFunc(func(_ context.Context, in transport.ReconcileInput) (model.Projection, error) {
		got = in
		out := in.Local.Clone()
		out.Group.Title = "reconciled"
		return out, nil
	})

	p, err := a.Reconcile(context.Background(), r, "ops", nil)
	require.NoError(t, err)
	require.Equal(t, "reconciled", p.Group.Title)
	require.Equal(t, "ops", got.GroupID)
	require.Equal(t, model.ProtocolSecure, got.Local.Group.Protocol)

	failing := reconcilerFunc(func(context.Context, transport.ReconcileInput) (model.Projection, error) {
		return model.Projection{}, errs.ErrCapabilityBlocked
	})
	_, err = a.Reconcile(context.Background(), failing, "ops", nil)
	require.ErrorIs(t, err, errs.ErrCapabilityBlocked)

	p, err = a.Projection(context.Background(), "ops")
	require.NoError(t, err)
	require.Equal(t, "reconciled", p.Group.Title)
}

/************ remediation ************/

func TestRemediation_Flow(t *testing.T) {
	d := &fakeDispatcher{res: receipt()}
	audits := &memAudits{}
	auth := NewAuthority(nil, audits, AuthorityOptions{}, nil, clock(500))
	cmds := NewCommands(d, nil, nil, auth, CommandDefaults{AllowFallback: true}, nil, clock(500))
	reg := keys.NewRegistry(clock(500))
	_, err := reg.PrepareSessionUse("ops", model.UseSend, 0, 0)
	require.NoError(t, err)
	sched := rotation.NewScheduler(rotation.DefaultPolicy(), clock(500))
	r := NewRemediation(cmds, reg, sched, auth, nil, clock(500))

	res, err := r.Remediate(context.Background(), mod, RemediateInput{GroupID: "ops", CompromisedPubkey: bob})
	require.NoError(t, err)
	require.True(t, res.OK)
	require.True(t, res.MembershipRemediated)
	require.Equal(t, 1, res.Revocation.RevokedKeyCount)
	require.Equal(t, DefaultRemediationReason, res.Revocation.Audit.Reason)
	require.True(t, res.RotationScheduled)
	require.Equal(t, model.TriggerCompromiseSuspected, res.RotationJob.Trigger)

	require.Equal(t, model.ActionRemoveMember, d.intents[0].Action)
	require.Equal(t, bob, d.intents[0].Payload.MemberPubkey)

	k, ok := reg.SessionState("ops")
	require.True(t, ok)
	require.Equal(t, model.KeyRevoked, k.Status)

	require.Len(t, audits.entries, 2)
	require.Equal(t, keys.ActionRevocation, audits.entries[0].Action)
	require.Equal(t, ActionRotationScheduled, audits.entries[1].Action)
}

func TestRemediation_RemovalFailureStops(t *testing.T) {
	d := &fakeDispatcher{res: receipt()}
	cmds := NewCommands(d, nil, nil, nil, CommandDefaults{AllowFallback: true}, nil, clock(500))
	reg := keys.NewRegistry(clock(500))
	_, err := reg.PrepareSessionUse("ops", model.UseSend, 0, 0)
	require.NoError(t, err)
	sched := rotation.NewScheduler(rotation.DefaultPolicy(), clock(500))
	r := NewRemediation(cmds, reg, sched, nil, nil, clock(500))

	res, err := r.Remediate(context.Background(), plain, RemediateInput{GroupID: "ops", CompromisedPubkey: bob})
	require.ErrorIs(t, err, errs.ErrPermissionDenied)
	require.False(t, res.OK)
	require.False(t, res.MembershipRemediated)

	k, _ := reg.SessionState("ops")
	require.Equal(t, model.KeyActive, k.Status)
	_, scheduled := sched.Get("ops")
	require.False(t, scheduled)
}

/************ tokens ************/

func TestTokens_IssueVerify(t *testing.T) {
	tk := NewTokens([]byte("secret"), time.Minute)
	raw, exp, err := tk.Issue(admin)
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))

	got, err := tk.Verify(raw)
	require.NoError(t, err)
	require.Equal(t, admin, got)

	_, err = NewTokens([]byte("other"), time.Minute).Verify(raw)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestTokens_Expired(t *testing.T) {
	tk := NewTokens([]byte("secret"), time.Minute)
	tk.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	raw, _, err := tk.Issue(admin)
	require.NoError(t, err)

	_, err = NewTokens([]byte("secret"), time.Minute).Verify(raw)
	require.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestTokens_RejectsBadActor(t *testing.T) {
	tk := NewTokens([]byte("secret"), time.Minute)
	_, _, err := tk.Issue(Actor{Pubkey: "short", Role: model.RoleAdmin})
	require.ErrorIs(t, err, errs.ErrValidation)
	_, _, err = tk.Issue(Actor{Pubkey: bob, Role: "king"})
	require.ErrorIs(t, err, errs.ErrValidation)
}
