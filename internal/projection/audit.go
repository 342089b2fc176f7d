package projection

import (
	"sort"
	"strings"

	"github.com/navcom/groupctl/internal/model"
)

// DefaultAuditPageSize is used when AuditQuery.PageSize is unset.
const DefaultAuditPageSize = 10

const maxAuditPageSize = 100

// ActorFilter selects audit entries by who produced them.
type ActorFilter string

const (
	ActorsAll     ActorFilter = "all"
	ActorsSelf    ActorFilter = "self"
	ActorsSystem  ActorFilter = "system"
	ActorsKnown   ActorFilter = "known"
	ActorsUnknown ActorFilter = "unknown"
)

func (f ActorFilter) normalize() ActorFilter {
	switch f {
	case ActorsAll, ActorsSelf, ActorsSystem, ActorsKnown, ActorsUnknown:
		return f
	}
	return ActorsAll
}

// AuditQuery selects a page of the audit trail.
type AuditQuery struct {
	Self     string // pubkey of the viewer, for the self filter and labels
	Cursor   int
	PageSize int
	Action   string // "" or "all" for every action
	Actor    ActorFilter
}

// AuditItem is one rendered audit entry.
type AuditItem struct {
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	ActorLabel string `json:"actorLabel"`
	CreatedAt  int64  `json:"createdAt"`
	Reason     string `json:"reason,omitempty"`
	EventID    string `json:"eventId,omitempty"`
}

// Option is a filter value with the number of entries it matches.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AuditPage is a filtered, paginated audit view.
type AuditPage struct {
	Items      []AuditItem `json:"items"`
	Total      int         `json:"total"`
	Actions    []Option    `json:"actions"`
	Actors     []Option    `json:"actors"`
	HasMore    bool        `json:"hasMore"`
	NextCursor int         `json:"nextCursor"`
	Cursor     int         `json:"cursor"`
	PageSize   int         `json:"pageSize"`
	Action     string      `json:"action"`
	Actor      ActorFilter `json:"actor"`
}

// AuditHistory renders a page of p's audit trail, newest first.
func AuditHistory(p model.Projection, q AuditQuery) AuditPage {
	action := strings.TrimSpace(q.Action)
	if action == "" {
		action = "all"
	}
	actor := q.Actor.normalize()
	size := q.PageSize
	switch {
	case size <= 0:
		size = DefaultAuditPageSize
	case size > maxAuditPageSize:
		size = maxAuditPageSize
	}
	cursor := q.Cursor
	if cursor < 0 {
		cursor = 0
	}

	sorted := append([]model.AuditEvent(nil), p.Audit...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt > sorted[j].CreatedAt
		}
		return sorted[i].EventID > sorted[j].EventID
	})

	var filtered []model.AuditEvent
	for _, e := range sorted {
		if action != "all" && e.Action != action {
			continue
		}
		if !actorMatches(p, e, actor, q.Self) {
			continue
		}
		filtered = append(filtered, e)
	}

	end := cursor + size
	if end > len(filtered) {
		end = len(filtered)
	}
	start := cursor
	if start > end {
		start = end
	}
	items := make([]AuditItem, 0, end-start)
	for _, e := range filtered[start:end] {
		items = append(items, AuditItem{
			Action:     e.Action,
			Actor:      e.Actor,
			ActorLabel: actorLabel(p, e.Actor, q.Self),
			CreatedAt:  e.CreatedAt,
			Reason:     e.Reason,
			EventID:    e.EventID,
		})
	}

	return AuditPage{
		Items:      items,
		Total:      len(filtered),
		Actions:    actionOptions(sorted),
		Actors:     actorOptions(p, sorted, q.Self),
		HasMore:    cursor+size < len(filtered),
		NextCursor: end,
		Cursor:     cursor,
		PageSize:   size,
		Action:     action,
		Actor:      actor,
	}
}

func known(p model.Projection, actor string) bool {
	_, ok := p.Members[actor]
	return ok
}

func actorMatches(p model.Projection, e model.AuditEvent, f ActorFilter, self string) bool {
	switch f {
	case ActorsSelf:
		return self != "" && e.Actor == self
	case ActorsSystem:
		return e.Actor == ActorSystem
	case ActorsKnown:
		return known(p, e.Actor)
	case ActorsUnknown:
		return e.Actor != ActorSystem && !known(p, e.Actor)
	}
	return true
}

func shortKey(k string) string {
	if len(k) <= 14 {
		return k
	}
	return k[:8] + "…" + k[len(k)-6:]
}

func actorLabel(p model.Projection, actor, self string) string {
	if actor == ActorSystem {
		return "System"
	}
	if self != "" && actor == self {
		if m, ok := p.Members[self]; ok {
			return "You (" + string(m.Role) + ")"
		}
		return "You"
	}
	if m, ok := p.Members[actor]; ok {
		return string(m.Role) + " · " + shortKey(actor)
	}
	return shortKey(actor)
}

func actionOptions(entries []model.AuditEvent) []Option {
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Action]++
	}
	opts := make([]Option, 0, len(counts))
	for v, n := range counts {
		opts = append(opts, Option{Value: v, Label: v, Count: n})
	}
	sort.Slice(opts, func(i, j int) bool {
		if opts[i].Count != opts[j].Count {
			return opts[i].Count > opts[j].Count
		}
		return opts[i].Value < opts[j].Value
	})
	return append([]Option{{Value: "all", Label: "All actions", Count: len(entries)}}, opts...)
}

func actorOptions(p model.Projection, entries []model.AuditEvent, self string) []Option {
	var selfN, systemN, knownN, unknownN int
	for _, e := range entries {
		switch {
		case self != "" && e.Actor == self:
			selfN++
		case e.Actor == ActorSystem:
			systemN++
		case known(p, e.Actor):
			knownN++
		default:
			unknownN++
		}
	}
	return []Option{
		{Value: string(ActorsAll), Label: "All actors", Count: len(entries)},
		{Value: string(ActorsSelf), Label: "You", Count: selfN},
		{Value: string(ActorsSystem), Label: "System", Count: systemN},
		{Value: string(ActorsKnown), Label: "Known members", Count: knownN},
		{Value: string(ActorsUnknown), Label: "External/unknown", Count: unknownN},
	}
}
