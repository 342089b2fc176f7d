package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync"
	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/contract"
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/groupid"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
	"github.com/navcom/groupctl/internal/repository"
	"github.com/navcom/groupctl/internal/transport"
)

// AuthorityOptions controls checkpoint restore.
type AuthorityOptions struct {
	StaleAfter   int64
	RecoverStale bool
}

type groupState struct {
	mu     sync.Mutex
	p      model.Projection
	loaded bool
}

// Authority owns the live projection of every group. Each group is folded
// under its own lock; groups never block each other.
type Authority struct {
	groups      *xsync.MapOf[string, *groupState]
	checkpoints repository.CheckpointRepository
	audits      repository.AuditRepository
	opts        AuthorityOptions
	log         *zap.Logger
	now         func() int64
}

// NewAuthority constructs the projection authority. Repositories may be nil.
func NewAuthority(cp repository.CheckpointRepository, audits repository.AuditRepository, opts AuthorityOptions, log *zap.Logger, now func() int64) *Authority {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authority{
		groups:      xsync.NewMapOf[*groupState](),
		checkpoints: cp,
		audits:      audits,
		opts:        opts,
		log:         log,
		now:         now,
	}
}

// state returns the group entry, creating it. Only write paths call it.
func (a *Authority) state(groupID string) *groupState {
	st, _ := a.groups.LoadOrStore(groupID, &groupState{})
	return st
}

// load restores st from its checkpoint once. The caller holds st.mu.
func (a *Authority) load(ctx context.Context, groupID string, st *groupState) error {
	if st.loaded {
		return nil
	}
	if a.checkpoints == nil {
		return errs.ErrNotFound
	}
	c, err := a.checkpoints.Load(ctx, groupID)
	if err != nil {
		if errors.Is(err, errs.ErrCheckpointUnreadable) {
			a.log.Warn("checkpoint unreadable", zap.String("group", groupID), zap.Error(err))
		}
		return err
	}
	p, err := projection.Restore(c, projection.RestoreOptions{
		Now:        a.now(),
		StaleAfter: a.opts.StaleAfter,
		Recover:    a.opts.RecoverStale,
	})
	if err != nil {
		a.log.Warn("checkpoint not restored", zap.String("group", groupID), zap.Error(err))
		return err
	}
	st.p, st.loaded = p, true
	return nil
}

// IngestResult counts the outcome of one ingest call.
type IngestResult struct {
	Applied int
	Dropped int
}

// Ingest folds events into their groups. Invalid, foreign and duplicate
// events are dropped and logged at Debug.
func (a *Authority) Ingest(ctx context.Context, events []model.Event) IngestResult {
	var res IngestResult
	for _, ev := range projection.SortEvents(events) {
		if a.ingest(ctx, ev) {
			res.Applied++
		} else {
			res.Dropped++
		}
	}
	return res
}

func (a *Authority) ingest(ctx context.Context, ev model.Event) bool {
	v := contract.Validate(ev)
	if !v.OK() {
		a.logDrop(ev, projection.DroppedInvalid, v.Diagnostic)
		return false
	}
	groupID := groupid.Canonical(v.GroupID)

	st := a.state(groupID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		if err := a.load(ctx, groupID, st); err != nil {
			p, _ := projection.New(ev)
			st.p, st.loaded = p, true
		}
	}
	out, diag := projection.Fold(&st.p, ev)
	if out != projection.Applied {
		a.logDrop(ev, out, diag)
		return false
	}
	return true
}

func (a *Authority) logDrop(ev model.Event, out projection.Outcome, diag *contract.Diagnostic) {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.Int("kind", ev.Kind),
		zap.String("outcome", out.String()),
	}
	if diag != nil {
		fields = append(fields, zap.String("reason", string(diag.Reason)))
	}
	a.log.Debug("event dropped", fields...)
}

// Projection returns a copy of the group projection, restoring it from its
// checkpoint when not yet in memory. Groups that cannot be restored are not
// retained.
func (a *Authority) Projection(ctx context.Context, groupID string) (model.Projection, error) {
	groupID = groupid.Canonical(groupID)
	if st, ok := a.groups.Load(groupID); ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		if err := a.load(ctx, groupID, st); err != nil {
			return model.Projection{}, err
		}
		return st.p.Clone(), nil
	}

	restored := &groupState{}
	if err := a.load(ctx, groupID, restored); err != nil {
		return model.Projection{}, err
	}
	st, _ := a.groups.LoadOrStore(groupID, restored)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.loaded {
		st.p, st.loaded = restored.p, true
	}
	return st.p.Clone(), nil
}

// Snapshot returns copies of every loaded projection keyed by group id.
func (a *Authority) Snapshot() map[string]model.Projection {
	out := map[string]model.Projection{}
	a.groups.Range(func(id string, st *groupState) bool {
		st.mu.Lock()
		if st.loaded {
			out[id] = st.p.Clone()
		}
		st.mu.Unlock()
		return true
	})
	return out
}

// List summarizes every loaded group, most recently updated first.
func (a *Authority) List() []projection.Summary {
	return projection.List(a.Snapshot(), a.now(), a.opts.StaleAfter)
}

// Warm restores every stored checkpoint into memory and returns how many loaded.
func (a *Authority) Warm(ctx context.Context) (int, error) {
	if a.checkpoints == nil {
		return 0, nil
	}
	all, err := a.checkpoints.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range all {
		p, err := projection.Restore(c, projection.RestoreOptions{
			Now:        a.now(),
			StaleAfter: a.opts.StaleAfter,
			Recover:    a.opts.RecoverStale,
		})
		if err != nil {
			a.log.Warn("checkpoint not restored", zap.String("group", c.Group.ID), zap.Error(err))
			continue
		}
		st := a.state(p.Group.ID)
		st.mu.Lock()
		if !st.loaded {
			st.p, st.loaded = p, true
			n++
		}
		st.mu.Unlock()
	}
	return n, nil
}

// Checkpoint persists the group projection.
func (a *Authority) Checkpoint(ctx context.Context, groupID string) error {
	if a.checkpoints == nil {
		return nil
	}
	p, err := a.Projection(ctx, groupID)
	if err != nil {
		return err
	}
	return a.checkpoints.Save(ctx, projection.NewCheckpoint(p, a.now()))
}

// CheckpointAll persists every loaded projection and returns the first error.
func (a *Authority) CheckpointAll(ctx context.Context) error {
	if a.checkpoints == nil {
		return nil
	}
	var first error
	now := a.now()
	for id, p := range a.Snapshot() {
		if err := a.checkpoints.Save(ctx, projection.NewCheckpoint(p, now)); err != nil {
			a.log.Warn("checkpoint save failed", zap.String("group", id), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// RecordAudit adds e to the group's audit history and persists it.
func (a *Authority) RecordAudit(ctx context.Context, e model.AuditEvent) error {
	if e.GroupID == "" {
		return fmt.Errorf("%w: audit entry without group", errs.ErrValidation)
	}
	groupID := groupid.Canonical(e.GroupID)
	st := a.state(groupID)
	st.mu.Lock()
	if !st.loaded {
		if err := a.load(ctx, groupID, st); err != nil {
			st.p, st.loaded = projection.Empty(model.GroupEntity{ID: groupID, CreatedAt: e.CreatedAt, UpdatedAt: e.CreatedAt}), true
		}
	}
	projection.AddAudit(&st.p, e)
	st.mu.Unlock()

	if a.audits == nil {
		return nil
	}
	_, err := a.audits.Append(ctx, e)
	return err
}

// AuditHistory renders one page of the group's audit history.
func (a *Authority) AuditHistory(ctx context.Context, groupID string, q projection.AuditQuery) (projection.AuditPage, error) {
	p, err := a.Projection(ctx, groupID)
	if err != nil {
		return projection.AuditPage{}, err
	}
	return projection.AuditHistory(p, q), nil
}

// Reconcile folds remote secure events into the group through r, which also
// applies the key lifecycle checks of the secure transport.
func (a *Authority) Reconcile(ctx context.Context, r transport.Reconciler, groupID string, remote []model.Event) (model.Projection, error) {
	groupID = groupid.Canonical(groupID)
	st := a.state(groupID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := a.load(ctx, groupID, st); err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			return model.Projection{}, err
		}
		st.p = projection.Empty(model.GroupEntity{ID: groupID, Protocol: model.ProtocolSecure})
	}
	local := st.p
	out, err := r.Reconcile(ctx, transport.ReconcileInput{GroupID: groupID, RemoteEvents: remote, Local: &local})
	if err != nil {
		return model.Projection{}, err
	}
	st.p, st.loaded = out, true
	return out.Clone(), nil
}
