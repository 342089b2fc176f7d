package transport

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/control"
	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/rotation"
)

// Secure gate reasons.
const (
	ReasonSecureModeOnly  = "Secure adapter only handles secure-nip-ee mode."
	ReasonPilotDisabled   = "Secure pilot adapter is disabled."
	ReasonRequiresR4      = "Secure mode requires R4 capability readiness."
	reasonInvalidSend     = "Invalid secure send payload. Required: groupId, content, recipients."
	reasonInvalidSub      = "Invalid secure subscribe payload. Required: groupId."
	reasonInvalidRecon    = "Invalid secure reconcile payload."
	reasonMissingLocal    = "Local projection state is required to reconcile secure group events."
	reasonProjectionGroup = "Projection group mismatch during secure reconcile."
)

// SecureConfig wires a SecureAdapter.
type SecureConfig struct {
	Keys      *keys.Registry
	Rotation  *rotation.Scheduler
	Publisher Publisher
	Source    EventSource
	Self      string // local pubkey, always a recipient
	Relays    []string
	KeyTTL    int64
	Now       func() int64
	Log       *zap.Logger
}

// SecureAdapter is the NIP-EE pilot. It does not publish control actions;
// messaging operations are gated by the session key lifecycle.
type SecureAdapter struct {
	pilot atomic.Bool
	cfg   SecureConfig
}

// NewSecureAdapter builds a disabled secure adapter.
func NewSecureAdapter(cfg SecureConfig) *SecureAdapter {
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().Unix() }
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &SecureAdapter{cfg: cfg}
}

// SetPilotEnabled switches the pilot.
func (a *SecureAdapter) SetPilotEnabled(on bool) { a.pilot.Store(on) }

// PilotEnabled reports the pilot switch.
func (a *SecureAdapter) PilotEnabled() bool { return a.pilot.Load() }

func (a *SecureAdapter) Mode() model.TransportMode { return model.ModeSecure }

func (a *SecureAdapter) CanOperate(requested model.TransportMode, snap *model.CapabilitySnapshot) Gate {
	if requested != model.ModeSecure {
		return Gate{Reason: ReasonSecureModeOnly}
	}
	if !a.pilot.Load() {
		return Gate{Reason: ReasonPilotDisabled}
	}
	if snap != nil && snap.Readiness != "" && snap.Readiness != model.R4 {
		return Gate{Reason: ReasonRequiresR4}
	}
	return Gate{OK: true}
}

func (a *SecureAdapter) PublishControl(context.Context, model.Intent) (model.Receipt, error) {
	return model.Receipt{}, fail(CodeUnsupported, "Secure pilot adapter does not implement publishControlAction yet.", false, nil)
}

func (a *SecureAdapter) disabled() error {
	return fail(CodeCapabilityBlocked, ReasonPilotDisabled, false, nil)
}

// useSessionKey records a use of the group session key and schedules a
// rotation when one is due.
func (a *SecureAdapter) useSessionKey(groupID string, action model.KeyUseAction, now int64) (model.KeyState, error) {
	use, err := a.cfg.Keys.PrepareSessionUse(groupID, action, now, a.cfg.KeyTTL)
	if err != nil {
		return use.State, fail(CodeCapabilityBlocked, "Secure key lifecycle blocked "+string(action)+": "+err.Error(), false, err)
	}
	if job, ok := a.cfg.Rotation.ScheduleIfNeeded(groupID, &use.State, model.TriggerSchedule, now); ok {
		a.cfg.Log.Info("key rotation scheduled",
			zap.String("group", groupID),
			zap.String("key", job.KeyID),
			zap.String("trigger", string(job.Trigger)),
		)
	}
	return use.State, nil
}

// SendMessage publishes an encrypted group event to the recipients.
func (a *SecureAdapter) SendMessage(ctx context.Context, in SendInput) (model.Receipt, error) {
	if !a.pilot.Load() {
		return model.Receipt{}, a.disabled()
	}
	groupID := strings.TrimSpace(in.GroupID)
	if groupID == "" || in.Content == "" || len(in.Recipients) == 0 {
		return model.Receipt{}, fail(CodeValidationFailed, reasonInvalidSend, false, nil)
	}

	now := a.cfg.Now()
	if _, err := a.useSessionKey(groupID, model.UseSend, now); err != nil {
		return model.Receipt{}, err
	}

	tags := nostr.Tags{{"h", groupID}}
	for _, p := range recipients(in.Recipients, a.cfg.Self) {
		if p != a.cfg.Self {
			tags = append(tags, nostr.Tag{"p", p})
		}
	}
	receipt, err := a.cfg.Publisher.Publish(ctx, control.Template{Kind: groupkind.GroupEvent, Tags: tags, Content: in.Content}, a.cfg.Relays)
	if err != nil {
		return model.Receipt{}, fail(CodeDispatchFailed, "Failed to send secure group message.", true, err)
	}
	return receipt, nil
}

func recipients(list []string, self string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range append(append([]string(nil), list...), self) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// SubscribeFilter selects secure group events and welcomes of a group. A
// numeric cursor is used as since.
func SubscribeFilter(groupID, cursor string) nostr.Filter {
	f := nostr.Filter{
		Kinds: []int{groupkind.GroupEvent, groupkind.Welcome},
		Tags:  nostr.TagMap{"h": []string{groupID}},
	}
	if ts, err := strconv.ParseInt(cursor, 10, 64); err == nil {
		since := nostr.Timestamp(ts)
		f.Since = &since
	}
	return f
}

func (a *SecureAdapter) Subscribe(ctx context.Context, in SubscribeInput, h Handlers) (Subscription, error) {
	if !a.pilot.Load() {
		return nil, a.disabled()
	}
	groupID := strings.TrimSpace(in.GroupID)
	if groupID == "" {
		return nil, fail(CodeValidationFailed, reasonInvalidSub, false, nil)
	}
	if _, err := a.useSessionKey(groupID, model.UseSubscribe, a.cfg.Now()); err != nil {
		return nil, err
	}

	relays := in.Relays
	if len(relays) == 0 {
		relays = a.cfg.Relays
	}
	sub, err := a.cfg.Source.Subscribe(ctx, SubscribeFilter(groupID, in.Cursor), relays, h.OnEvent)
	if err != nil {
		if h.OnError != nil {
			h.OnError(err)
		}
		return nil, fail(CodeDispatchFailed, "Failed to start secure group subscription.", true, err)
	}
	return sub, nil
}

// Reconcile folds remote events into the local projection in recency order
// and schedules a membership rotation when membership changed remotely.
func (a *SecureAdapter) Reconcile(_ context.Context, in ReconcileInput) (model.Projection, error) {
	if !a.pilot.Load() {
		return model.Projection{}, a.disabled()
	}
	groupID := strings.TrimSpace(in.GroupID)
	if groupID == "" {
		return model.Projection{}, fail(CodeValidationFailed, reasonInvalidRecon, false, nil)
	}

	if in.Local == nil {
		return model.Projection{}, fail(CodeValidationFailed, reasonMissingLocal, false, nil)
	}
	if in.Local.Group.ID != groupID {
		return model.Projection{}, fail(CodeValidationFailed, reasonProjectionGroup, false, nil)
	}

	now := a.cfg.Now()
	state, err := a.useSessionKey(groupID, model.UseReconcile, now)
	if err != nil {
		return model.Projection{}, err
	}

	if job, ok := a.cfg.Rotation.ScheduleMembershipTriggered(groupID, &state, in.RemoteEvents, now); ok {
		a.cfg.Log.Info("key rotation scheduled",
			zap.String("group", groupID),
			zap.String("key", job.KeyID),
			zap.String("trigger", string(job.Trigger)),
		)
	}
	return control.ApplyEventsSorted(*in.Local, in.RemoteEvents), nil
}
