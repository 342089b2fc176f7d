// Package service contains the group control-plane application services.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/capability"
	"github.com/navcom/groupctl/internal/control"
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/limiter"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/transport"
)

// Actor is the authenticated caller of a command.
type Actor struct {
	Pubkey string
	Role   model.Role
}

// Command is one group control request.
type Command struct {
	Action             model.Action
	Payload            model.Payload
	RequestedMode      model.TransportMode
	Tier               *model.MissionTier // nil uses the service default
	DowngradeConfirmed bool
	AllowTier2Override bool
	DisallowFallback   bool
	Retries            int
}

// Dispatcher is the transport surface the command service drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, in model.Intent, opts transport.Options) (transport.Result, error)
}

// SnapshotSource supplies the capability snapshot gating a dispatch.
type SnapshotSource interface {
	Weakest(ctx context.Context, t capability.Trigger, relays []string) (*model.CapabilitySnapshot, error)
}

// AuditSink records audit entries produced by a command.
type AuditSink interface {
	RecordAudit(ctx context.Context, e model.AuditEvent) error
}

// CommandDefaults holds per-deployment dispatch defaults.
type CommandDefaults struct {
	Tier          model.MissionTier
	AllowFallback bool
	Relays        []string
}

// Commands gates, dispatches and reports group control commands.
type Commands struct {
	disp     Dispatcher
	caps     SnapshotSource
	lim      limiter.Limiter
	audit    AuditSink
	defaults CommandDefaults
	log      *zap.Logger
	now      func() int64
}

// NewCommands constructs the command service. caps, lim and audit may be nil.
func NewCommands(disp Dispatcher, caps SnapshotSource, lim limiter.Limiter, audit AuditSink, d CommandDefaults, log *zap.Logger, now func() int64) *Commands {
	if log == nil {
		log = zap.NewNop()
	}
	return &Commands{disp: disp, caps: caps, lim: lim, audit: audit, defaults: d, log: log, now: now}
}

func triggerFor(a model.Action) capability.Trigger {
	switch a {
	case model.ActionCreate:
		return capability.TriggerCreate
	case model.ActionJoin:
		return capability.TriggerJoin
	}
	return capability.TriggerPeriodic
}

// Execute runs one command and never returns an error: failures are
// classified into the outcome.
func (c *Commands) Execute(ctx context.Context, actor Actor, cmd Command) feedback.Outcome {
	groupID := cmd.Payload.GroupID

	if c.lim != nil {
		ok, retry, err := c.lim.Allow(ctx, actor.Pubkey, groupID)
		if err != nil {
			c.log.Warn("dispatch limiter unavailable", zap.Error(err))
		} else if !ok {
			return feedback.MapError(fmt.Errorf("%w: dispatch locked for %s", errs.ErrPermissionDenied, retry))
		}
	}

	if err := control.EnsureAllowed(actor.Role, cmd.Action); err != nil {
		c.recordDenied(ctx, actor, groupID)
		return feedback.MapError(err)
	}

	intent := transport.NewIntent(cmd.Action, cmd.Payload, actor.Role, cmd.RequestedMode, c.now())
	opts := transport.Options{
		DisallowFallback:   cmd.DisallowFallback || !c.defaults.AllowFallback,
		Tier:               c.defaults.Tier,
		DowngradeConfirmed: cmd.DowngradeConfirmed,
		AllowTier2Override: cmd.AllowTier2Override,
	}
	if cmd.Tier != nil {
		opts.Tier = *cmd.Tier
	}

	if c.caps != nil && len(c.defaults.Relays) > 0 {
		snap, err := c.caps.Weakest(ctx, triggerFor(cmd.Action), c.defaults.Relays)
		if err != nil {
			c.log.Warn("capability snapshot unavailable", zap.String("group", groupID), zap.Error(err))
		} else {
			opts.Snapshot = snap
		}
	}

	var override *model.AuditEvent
	out := feedback.Retry(ctx, cmd.Retries, func(ctx context.Context) feedback.Outcome {
		res, err := c.disp.Dispatch(ctx, intent, opts)
		if err == nil && res.Override != nil {
			a := res.Override.Audit()
			override = &a
		}
		return feedback.From(res.Receipt, err)
	})

	if out.OK {
		if c.lim != nil {
			if err := c.lim.Success(ctx, actor.Pubkey, groupID); err != nil {
				c.log.Warn("dispatch limiter reset failed", zap.Error(err))
			}
		}
		if override != nil && c.audit != nil {
			if err := c.audit.RecordAudit(ctx, *override); err != nil {
				c.log.Warn("override audit not recorded", zap.String("group", groupID), zap.Error(err))
			}
		}
	}
	return out
}

func (c *Commands) recordDenied(ctx context.Context, actor Actor, groupID string) {
	if c.lim == nil {
		return
	}
	blocked, d, err := c.lim.Failure(ctx, actor.Pubkey, groupID)
	if err != nil {
		c.log.Warn("dispatch limiter failure not recorded", zap.Error(err))
		return
	}
	if blocked {
		c.log.Info("dispatch locked",
			zap.String("actor", actor.Pubkey),
			zap.String("group", groupID),
			zap.Duration("block_for", d))
	}
}

// Create dispatches a create command and returns the outcome with its user message.
func (c *Commands) Create(ctx context.Context, actor Actor, cmd Command) (feedback.Outcome, string) {
	cmd.Action = model.ActionCreate
	out := c.Execute(ctx, actor, cmd)
	return out, feedback.CreateMessage(out)
}
