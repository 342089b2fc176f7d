// Package control gates group control actions by role and builds the
// unsigned event templates that carry them.
package control

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/navcom/groupctl/internal/contract"
	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/groupid"
	"github.com/navcom/groupctl/internal/groupkind"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/projection"
)

var minRole = map[model.Action]model.Role{
	model.ActionCreate:       model.RoleAdmin,
	model.ActionPutMember:    model.RoleAdmin,
	model.ActionEditMetadata: model.RoleAdmin,
	model.ActionRemoveMember: model.RoleModerator,
}

// CanPerform reports whether role may issue action.
func CanPerform(role model.Role, action model.Action) bool {
	min, gated := minRole[action]
	return !gated || role.AtLeast(min)
}

// EnsureAllowed returns an errs.ErrPermissionDenied wrap when role may not issue action.
func EnsureAllowed(role model.Role, action model.Action) error {
	if !CanPerform(role, action) {
		return fmt.Errorf("%w for action: %s", errs.ErrPermissionDenied, action)
	}
	return nil
}

// Template is an unsigned event.
type Template struct {
	Kind    int
	Tags    nostr.Tags
	Content string
}

// Event stamps the template into an unsigned event.
func (t Template) Event(createdAt int64) model.Event {
	return model.Event{
		Kind:      t.Kind,
		Tags:      t.Tags,
		Content:   t.Content,
		CreatedAt: nostr.Timestamp(createdAt),
	}
}

type pair struct{ k, v string }

func tags(pairs ...pair) nostr.Tags {
	out := make(nostr.Tags, 0, len(pairs))
	for _, p := range pairs {
		if p.v != "" {
			out = append(out, nostr.Tag{p.k, p.v})
		}
	}
	return out
}

// CreateTemplate builds a create-group event.
func CreateTemplate(p model.Payload) Template {
	return Template{
		Kind: groupkind.CreateGroup,
		Tags: tags(pair{"h", p.GroupID}, pair{"name", p.Title}, pair{"about", p.Description}, pair{"picture", p.Picture}),
	}
}

// JoinTemplate builds a join request; the reason becomes the content.
func JoinTemplate(p model.Payload) Template {
	return Template{
		Kind:    groupkind.JoinRequest,
		Tags:    tags(pair{"h", p.GroupID}, pair{"p", p.MemberPubkey}),
		Content: p.Reason,
	}
}

// LeaveTemplate builds a leave request.
func LeaveTemplate(p model.Payload) Template {
	return Template{
		Kind:    groupkind.LeaveRequest,
		Tags:    tags(pair{"h", p.GroupID}, pair{"p", p.MemberPubkey}),
		Content: p.Reason,
	}
}

// PutMemberTemplate builds a put-user event carrying the optional role.
func PutMemberTemplate(p model.Payload) Template {
	return Template{
		Kind:    groupkind.PutUser,
		Tags:    tags(pair{"h", p.GroupID}, pair{"p", p.MemberPubkey}, pair{"role", string(p.Role)}),
		Content: p.Reason,
	}
}

// RemoveMemberTemplate builds a remove-user event.
func RemoveMemberTemplate(p model.Payload) Template {
	return Template{
		Kind:    groupkind.RemoveUser,
		Tags:    tags(pair{"h", p.GroupID}, pair{"p", p.MemberPubkey}),
		Content: p.Reason,
	}
}

// EditMetadataTemplate builds an edit-metadata event.
func EditMetadataTemplate(p model.Payload) Template {
	return Template{
		Kind:    groupkind.EditMetadata,
		Tags:    tags(pair{"h", p.GroupID}, pair{"name", p.Title}, pair{"about", p.Description}, pair{"picture", p.Picture}),
		Content: p.Reason,
	}
}

// TemplateFor builds the template of an intent.
func TemplateFor(in model.Intent) (Template, error) {
	switch in.Action {
	case model.ActionCreate:
		return CreateTemplate(in.Payload), nil
	case model.ActionJoin:
		return JoinTemplate(in.Payload), nil
	case model.ActionLeave:
		return LeaveTemplate(in.Payload), nil
	case model.ActionPutMember:
		return PutMemberTemplate(in.Payload), nil
	case model.ActionRemoveMember:
		return RemoveMemberTemplate(in.Payload), nil
	case model.ActionEditMetadata:
		return EditMetadataTemplate(in.Payload), nil
	}
	return Template{}, fmt.Errorf("%w: unknown action %q", errs.ErrValidation, in.Action)
}

// ApplyEventsSorted folds the events addressed to p's group in recency order.
func ApplyEventsSorted(p model.Projection, events []model.Event) model.Projection {
	var mine []model.Event
	for _, ev := range projection.SortEvents(events) {
		norm := contract.NormalizeTags(ev.Tags)
		if groupid.Canonical(contract.GroupIDOf(norm)) == p.Group.ID {
			mine = append(mine, ev)
		}
	}
	return projection.ApplyAll(p, mine)
}
