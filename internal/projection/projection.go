// Package projection folds validated group events into per-group aggregate state.
//
// The fold is idempotent and insensitive to delivery order: membership and
// metadata conflicts are resolved by the recency total order (created_at,
// then event id), audit entries are kept sorted newest first and duplicates
// are rejected by event id.
package projection

import (
	"sort"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/navcom/groupctl/internal/contract"
	"github.com/navcom/groupctl/internal/groupid"
	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/membership"
	"github.com/navcom/groupctl/internal/model"
)

// Outcome reports what Fold did with an event.
type Outcome int

const (
	Applied Outcome = iota
	DroppedInvalid
	DroppedForeignGroup
	DroppedDuplicate
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case DroppedInvalid:
		return "invalid"
	case DroppedForeignGroup:
		return "foreign-group"
	case DroppedDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Metadata field names tracked in Projection.MetaStamps.
const (
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldPicture     = "picture"
)

// GroupOf returns the canonical group id of ev, or "" when ev does not validate.
func GroupOf(ev model.Event) string {
	res := contract.Validate(ev)
	if !res.OK() {
		return ""
	}
	return groupid.Canonical(res.GroupID)
}

// New creates an empty projection for the group ev belongs to.
func New(ev model.Event) (model.Projection, bool) {
	id := GroupOf(ev)
	if id == "" {
		return model.Projection{}, false
	}
	protocol := groupkind.ProtocolOf(ev.Kind)
	at := int64(ev.CreatedAt)
	return Empty(model.GroupEntity{
		ID:            id,
		Protocol:      protocol,
		TransportMode: model.ModeFor(protocol),
		CreatedAt:     at,
		UpdatedAt:     at,
	}), true
}

// Empty returns a projection with no members, audit or source events.
func Empty(g model.GroupEntity) model.Projection {
	if g.Protocol == "" {
		g.Protocol = model.ProtocolBaseline
	}
	if g.TransportMode == "" {
		g.TransportMode = model.ModeFor(g.Protocol)
	}
	return model.Projection{
		Group:   g,
		Members: map[string]model.Membership{},
	}
}

// Apply returns the projection with ev folded in. p is not modified.
func Apply(p model.Projection, ev model.Event) model.Projection {
	out := p.Clone()
	Fold(&out, ev)
	return out
}

// ApplyAll folds events in the given order. p is not modified.
func ApplyAll(p model.Projection, events []model.Event) model.Projection {
	out := p.Clone()
	for _, ev := range events {
		Fold(&out, ev)
	}
	return out
}

// Fold applies ev to p in place. The caller must own p exclusively.
// The diagnostic is set when ev failed contract validation.
func Fold(p *model.Projection, ev model.Event) (Outcome, *contract.Diagnostic) {
	res := contract.Validate(ev)
	if !res.OK() {
		return DroppedInvalid, res.Diagnostic
	}
	if groupid.Canonical(res.GroupID) != p.Group.ID {
		return DroppedForeignGroup, nil
	}
	if p.HasEvent(ev.ID) {
		return DroppedDuplicate, nil
	}
	if p.Members == nil {
		p.Members = map[string]model.Membership{}
	}

	at := int64(ev.CreatedAt)
	p.SourceEvents = append(p.SourceEvents, ev)
	if at > p.Group.UpdatedAt {
		p.Group.UpdatedAt = at
	}
	if at < p.Group.CreatedAt {
		p.Group.CreatedAt = at
	}

	tags := contract.NormalizeTags(ev.Tags)
	switch res.Class {
	case groupkind.ClassMetadata:
		if ev.Kind == groupkind.Metadata {
			applyMetadata(p, ev, tags)
		}
	case groupkind.ClassMembership:
		applyMembership(p, ev, tags)
	case groupkind.ClassModeration:
		insertAudit(p, model.AuditEvent{
			GroupID:   p.Group.ID,
			Action:    "kind:" + strconv.Itoa(ev.Kind),
			Actor:     ev.PubKey,
			CreatedAt: at,
			Reason:    ev.Content,
			EventID:   ev.ID,
		})
	}
	return Applied, nil
}

func applyMetadata(p *model.Projection, ev model.Event, tags nostr.Tags) {
	st := model.StampOf(ev)
	set := func(field, value string, dst *string) {
		if value == "" {
			return
		}
		if p.MetaStamps == nil {
			p.MetaStamps = map[string]model.Stamp{}
		}
		if cur, ok := p.MetaStamps[field]; ok && !st.After(cur) {
			return
		}
		p.MetaStamps[field] = st
		*dst = value
	}
	set(fieldTitle, contract.TagValue(tags, "name"), &p.Group.Title)
	set(fieldDescription, contract.TagValue(tags, "about"), &p.Group.Description)
	set(fieldPicture, contract.TagValue(tags, "picture"), &p.Group.Picture)
}

func applyMembership(p *model.Projection, ev model.Event, tags nostr.Tags) {
	target := contract.TagValue(tags, contract.TagMember)
	if target == "" {
		return
	}
	at := int64(ev.CreatedAt)
	if cur, ok := p.Members[target]; ok {
		if newer, _ := membership.Recency(&cur, at, ev.ID); !newer {
			return
		}
	}
	status := model.StatusActive
	if ev.Kind == groupkind.RemoveUser || ev.Kind == groupkind.LeaveRequest {
		status = model.StatusRemoved
	}
	p.Members[target] = model.Membership{
		GroupID:   p.Group.ID,
		Pubkey:    target,
		Role:      model.ParseRole(contract.TagValue(tags, contract.TagRole)),
		Status:    status,
		UpdatedAt: at,
		EventID:   ev.ID,
	}
}

// AddAudit inserts a system-generated entry, keeping the trail newest first.
func AddAudit(p *model.Projection, e model.AuditEvent) {
	if e.GroupID == "" {
		e.GroupID = p.Group.ID
	}
	insertAudit(p, e)
}

func insertAudit(p *model.Projection, e model.AuditEvent) {
	st := model.Stamp{At: e.CreatedAt, EventID: e.EventID}
	i := sort.Search(len(p.Audit), func(i int) bool {
		a := p.Audit[i]
		return !(model.Stamp{At: a.CreatedAt, EventID: a.EventID}).After(st)
	})
	p.Audit = append(p.Audit, model.AuditEvent{})
	copy(p.Audit[i+1:], p.Audit[i:])
	p.Audit[i] = e
}

// Build groups events by canonical group id and folds each group. The
// projection of a group is created from its earliest event in recency order
// so that the protocol choice does not depend on delivery order.
func Build(events []model.Event) map[string]model.Projection {
	seeds := map[string]model.Event{}
	for _, ev := range events {
		id := GroupOf(ev)
		if id == "" {
			continue
		}
		if cur, ok := seeds[id]; !ok || model.StampOf(cur).After(model.StampOf(ev)) {
			seeds[id] = ev
		}
	}

	out := make(map[string]model.Projection, len(seeds))
	for id, seed := range seeds {
		p, _ := New(seed)
		out[id] = p
	}
	for _, ev := range events {
		id := GroupOf(ev)
		p, ok := out[id]
		if !ok {
			continue
		}
		Fold(&p, ev)
		out[id] = p
	}
	return out
}

// SortEvents orders events by the recency total order, oldest first.
func SortEvents(events []model.Event) []model.Event {
	out := append([]model.Event(nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		return model.StampOf(out[j]).After(model.StampOf(out[i]))
	})
	return out
}
