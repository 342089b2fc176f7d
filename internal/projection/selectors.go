package projection

import (
	"sort"

	"github.com/navcom/groupctl/internal/model"
)

// Summary is the list view of one group.
type Summary struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Description   string              `json:"description"`
	Picture       string              `json:"picture,omitempty"`
	Protocol      model.Protocol      `json:"protocol"`
	TransportMode model.TransportMode `json:"transportMode"`
	MemberCount   int                 `json:"memberCount"`
	LastUpdated   int64               `json:"lastUpdated"`
	Stale         bool                `json:"stale"`
}

// Summarize builds the summary of p. Title falls back to the group id.
func Summarize(p model.Projection, now, staleAfter int64) Summary {
	title := p.Group.Title
	if title == "" {
		title = p.Group.ID
	}
	return Summary{
		ID:            p.Group.ID,
		Title:         title,
		Description:   p.Group.Description,
		Picture:       p.Group.Picture,
		Protocol:      p.Group.Protocol,
		TransportMode: p.Group.TransportMode,
		MemberCount:   p.ActiveMembers(),
		LastUpdated:   p.Group.UpdatedAt,
		Stale:         IsStale(p, now, staleAfter),
	}
}

// List summarizes every projection, most recently updated first.
func List(byGroup map[string]model.Projection, now, staleAfter int64) []Summary {
	out := make([]Summary, 0, len(byGroup))
	for _, p := range byGroup {
		out = append(out, Summarize(p, now, staleAfter))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated != out[j].LastUpdated {
			return out[i].LastUpdated > out[j].LastUpdated
		}
		return out[i].ID < out[j].ID
	})
	return out
}
