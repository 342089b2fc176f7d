// Package transport resolves control intents onto transport adapters and
// dispatches them under capability gates and tier policy.
package transport

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/navcom/groupctl/internal/control"
	"github.com/navcom/groupctl/internal/model"
)

// Gate is the verdict of Adapter.CanOperate. Reason is set when OK is false.
type Gate struct {
	OK     bool
	Reason string
}

// Adapter publishes control actions for one transport mode.
type Adapter interface {
	Mode() model.TransportMode
	// CanOperate reports whether the adapter serves the requested mode. snap may be nil.
	CanOperate(requested model.TransportMode, snap *model.CapabilitySnapshot) Gate
	PublishControl(ctx context.Context, in model.Intent) (model.Receipt, error)
}

// SendInput is a secure group message. Content is already encrypted by the caller.
type SendInput struct {
	GroupID    string   `json:"groupId"`
	Content    string   `json:"content"`
	Recipients []string `json:"recipients"`
}

// SubscribeInput selects group events. A numeric Cursor becomes the filter since.
type SubscribeInput struct {
	GroupID string   `json:"groupId"`
	Cursor  string   `json:"cursor,omitempty"`
	Relays  []string `json:"relays,omitempty"`
}

// ReconcileInput folds remote events into a local projection.
type ReconcileInput struct {
	GroupID      string
	RemoteEvents []model.Event
	Local        *model.Projection
}

// Handlers receive subscription callbacks. OnError may be nil.
type Handlers struct {
	OnEvent func(model.Event)
	OnError func(error)
}

// Subscription is a running subscription.
type Subscription interface {
	Unsubscribe()
}

// Messenger sends group messages.
type Messenger interface {
	SendMessage(ctx context.Context, in SendInput) (model.Receipt, error)
}

// Subscriber streams group events.
type Subscriber interface {
	Subscribe(ctx context.Context, in SubscribeInput, h Handlers) (Subscription, error)
}

// Reconciler folds remote events into a projection.
type Reconciler interface {
	Reconcile(ctx context.Context, in ReconcileInput) (model.Projection, error)
}

// Publisher signs and publishes a template to relays. An empty relay list
// means the publisher's default set.
type Publisher interface {
	Publish(ctx context.Context, t control.Template, relays []string) (model.Receipt, error)
}

// EventSource delivers events matching filter until the subscription is closed.
type EventSource interface {
	Subscribe(ctx context.Context, filter nostr.Filter, relays []string, onEvent func(model.Event)) (Subscription, error)
}
