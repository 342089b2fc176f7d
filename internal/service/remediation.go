package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/feedback"
	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	"github.com/navcom/groupctl/internal/rotation"
)

// DefaultRemediationReason is recorded when the caller gives no reason.
const DefaultRemediationReason = "compromised-device-remediation"

// ActionRotationScheduled is the audit action of a remediation rotation.
const ActionRotationScheduled = "key-rotation-scheduled"

// RemediateInput names a compromised device in a group.
type RemediateInput struct {
	GroupID           string
	CompromisedPubkey string
	Reason            string
	RequestedMode     model.TransportMode
	Now               int64
}

// RemediateResult reports each remediation step.
type RemediateResult struct {
	OK                   bool
	MembershipRemediated bool
	Removal              feedback.Outcome
	Revocation           keys.RevokeResult
	RotationScheduled    bool
	RotationJob          *model.RotationJob
}

// Remediation removes a compromised member, revokes the group keys and
// schedules a replacement key.
type Remediation struct {
	cmds  *Commands
	keys  *keys.Registry
	sched *rotation.Scheduler
	audit AuditSink
	log   *zap.Logger
	now   func() int64
}

// NewRemediation wires the remediation flow.
func NewRemediation(cmds *Commands, reg *keys.Registry, sched *rotation.Scheduler, audit AuditSink, log *zap.Logger, now func() int64) *Remediation {
	if log == nil {
		log = zap.NewNop()
	}
	return &Remediation{cmds: cmds, keys: reg, sched: sched, audit: audit, log: log, now: now}
}

// Remediate runs removal, revocation and rotation in that order. A failed
// removal stops the flow before any key is revoked.
func (r *Remediation) Remediate(ctx context.Context, actor Actor, in RemediateInput) (RemediateResult, error) {
	now := in.Now
	if now <= 0 {
		now = r.now()
	}
	reason := in.Reason
	if reason == "" {
		reason = DefaultRemediationReason
	}

	removal := r.cmds.Execute(ctx, actor, Command{
		Action:        model.ActionRemoveMember,
		RequestedMode: in.RequestedMode,
		Payload: model.Payload{
			GroupID:      in.GroupID,
			MemberPubkey: in.CompromisedPubkey,
			Reason:       reason,
		},
	})
	res := RemediateResult{Removal: removal}
	if !removal.OK {
		return res, fmt.Errorf("membership remediation: %w", removal.Err)
	}
	res.MembershipRemediated = true

	res.Revocation = r.keys.RevokeCompromisedDevice(keys.RevokeInput{
		GroupID:           in.GroupID,
		CompromisedPubkey: in.CompromisedPubkey,
		ActorRole:         actor.Role,
		Reason:            reason,
		Now:               now,
	})

	var current *model.KeyState
	if k, ok := r.keys.SessionState(in.GroupID); ok {
		current = &k
	}
	if job, ok := r.sched.ScheduleIfNeeded(in.GroupID, current, model.TriggerCompromiseSuspected, now); ok {
		res.RotationScheduled, res.RotationJob = true, &job
	}
	res.OK = true

	if r.audit != nil {
		entries := []model.AuditEvent{res.Revocation.Audit.Audit()}
		if res.RotationScheduled {
			entries = append(entries, model.AuditEvent{
				GroupID:   in.GroupID,
				Action:    ActionRotationScheduled,
				Actor:     projection.ActorSystem,
				CreatedAt: now,
				Reason:    string(model.TriggerCompromiseSuspected),
				EventID:   res.Revocation.Audit.CorrelationID + ":rotation",
			})
		}
		for _, e := range entries {
			if err := r.audit.RecordAudit(ctx, e); err != nil {
				r.log.Warn("remediation audit not recorded", zap.String("group", in.GroupID), zap.String("action", e.Action), zap.Error(err))
			}
		}
	}
	r.log.Info("compromised device remediated",
		zap.String("group", in.GroupID),
		zap.Int("revoked_keys", res.Revocation.RevokedKeyCount),
		zap.Bool("rotation_scheduled", res.RotationScheduled))
	return res, nil
}
