package projection

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

// CheckpointVersion is the only readable checkpoint version.
const CheckpointVersion = 1

// DefaultStaleAfter is the staleness window of a projection, in seconds.
const DefaultStaleAfter int64 = 24 * 60 * 60

// Audit trail constants of stale-checkpoint recovery.
const (
	ActionStaleRecovery = "recovery:stale-checkpoint"
	ActorSystem         = "system"
	reasonStaleRecovery = "Checkpoint exceeded staleness window and was reset"
)

// ErrStale is returned by Restore when the checkpoint is stale and recovery is disabled.
var ErrStale = errors.New("checkpoint stale")

// Checkpoint is the persisted form of a projection.
type Checkpoint struct {
	Version          int                         `json:"version"`
	SavedAt          int64                       `json:"savedAt"`
	Group            model.GroupEntity           `json:"group"`
	Members          map[string]model.Membership `json:"members"`
	Audit            []model.AuditEvent          `json:"audit"`
	SourceEventIDs   []string                    `json:"sourceEventIds"`
	SourceEventCount int                         `json:"sourceEventCount"`
	MetaStamps       map[string]model.Stamp      `json:"metaStamps,omitempty"`
}

// NewCheckpoint serializes p at time now.
func NewCheckpoint(p model.Projection, now int64) Checkpoint {
	ids := p.EventIDs()
	c := p.Clone()
	audit := c.Audit
	if audit == nil {
		audit = []model.AuditEvent{}
	}
	return Checkpoint{
		Version:          CheckpointVersion,
		SavedAt:          now,
		Group:            c.Group,
		Members:          c.Members,
		Audit:            audit,
		SourceEventIDs:   ids,
		SourceEventCount: len(ids),
		MetaStamps:       c.MetaStamps,
	}
}

// Encode renders the checkpoint as JSON.
func (c Checkpoint) Encode() ([]byte, error) { return json.Marshal(c) }

// DecodeCheckpoint parses a JSON checkpoint. Any version other than
// CheckpointVersion, or a body missing group, members or audit, is unreadable.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", errs.ErrCheckpointUnreadable, err)
	}
	if c.Version != CheckpointVersion {
		return Checkpoint{}, fmt.Errorf("%w: version %d", errs.ErrCheckpointUnreadable, c.Version)
	}
	if c.Members == nil || c.Audit == nil {
		return Checkpoint{}, fmt.Errorf("%w: missing members or audit", errs.ErrCheckpointUnreadable)
	}
	return c, nil
}

// RestoreOptions controls staleness handling on restore.
type RestoreOptions struct {
	Now        int64
	StaleAfter int64 // seconds; <= 0 means DefaultStaleAfter
	Recover    bool
}

// IsStale reports whether p has not advanced within the staleness window.
func IsStale(p model.Projection, now, staleAfter int64) bool {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return now-p.Group.UpdatedAt > staleAfter
}

// RecoverStale resets p to an empty projection stamped at now, recording the reset.
func RecoverStale(p model.Projection, now int64) model.Projection {
	g := p.Group
	g.UpdatedAt = now
	out := Empty(g)
	AddAudit(&out, model.AuditEvent{
		Action:    ActionStaleRecovery,
		Actor:     ActorSystem,
		CreatedAt: now,
		Reason:    reasonStaleRecovery,
	})
	return out
}

// Restore rebuilds a projection from c. A stale checkpoint is replaced by a
// recovered projection when opts.Recover is set, otherwise ErrStale is returned.
func Restore(c Checkpoint, opts RestoreOptions) (model.Projection, error) {
	if c.Version != CheckpointVersion {
		return model.Projection{}, fmt.Errorf("%w: version %d", errs.ErrCheckpointUnreadable, c.Version)
	}
	if c.Group.ID == "" || c.Group.Protocol == "" {
		return model.Projection{}, fmt.Errorf("%w: group id or protocol missing", errs.ErrCheckpointUnreadable)
	}

	p := model.Projection{
		Group:       c.Group,
		Members:     make(map[string]model.Membership, len(c.Members)),
		Audit:       append([]model.AuditEvent(nil), c.Audit...),
		RestoredIDs: append([]string(nil), c.SourceEventIDs...),
	}
	for k, v := range c.Members {
		p.Members[k] = v
	}
	p.MetaStamps = restoreMetaStamps(c)

	if IsStale(p, opts.Now, opts.StaleAfter) {
		if !opts.Recover {
			return model.Projection{}, ErrStale
		}
		return RecoverStale(p, opts.Now), nil
	}
	return p, nil
}

// restoreMetaStamps returns the saved field stamps. A set field without one
// is stamped at the group watermark so an older event cannot overwrite it.
func restoreMetaStamps(c Checkpoint) map[string]model.Stamp {
	out := make(map[string]model.Stamp, 3)
	for k, v := range c.MetaStamps {
		out[k] = v
	}
	for field, value := range map[string]string{
		fieldTitle:       c.Group.Title,
		fieldDescription: c.Group.Description,
		fieldPicture:     c.Group.Picture,
	} {
		if _, ok := out[field]; !ok && value != "" {
			out[field] = model.Stamp{At: c.Group.UpdatedAt}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
