package transport

import (
	"context"

	"github.com/navcom/groupctl/internal/control"
	"github.com/navcom/groupctl/internal/model"
)

// BaselineAdapter publishes control templates as NIP-29 events.
type BaselineAdapter struct {
	pub    Publisher
	relays []string
}

// NewBaselineAdapter returns an adapter publishing to relays through pub.
func NewBaselineAdapter(pub Publisher, relays []string) *BaselineAdapter {
	return &BaselineAdapter{pub: pub, relays: append([]string(nil), relays...)}
}

func (a *BaselineAdapter) Mode() model.TransportMode { return model.ModeBaseline }

// CanOperate accepts baseline and secure requests so it can serve as the fallback.
func (a *BaselineAdapter) CanOperate(requested model.TransportMode, _ *model.CapabilitySnapshot) Gate {
	if requested == model.ModeBaseline || requested == model.ModeSecure {
		return Gate{OK: true}
	}
	return Gate{Reason: "Unsupported mode for baseline adapter"}
}

func (a *BaselineAdapter) PublishControl(ctx context.Context, in model.Intent) (model.Receipt, error) {
	tmpl, err := control.TemplateFor(in)
	if err != nil {
		return model.Receipt{}, fail(CodeValidationFailed, "Invalid group control action: "+string(in.Action), false, err)
	}
	receipt, err := a.pub.Publish(ctx, tmpl, a.relays)
	if err != nil {
		return model.Receipt{}, fail(CodeDispatchFailed, "Failed to publish group control event to relays.", true, err)
	}
	return receipt, nil
}

func (a *BaselineAdapter) SendMessage(context.Context, SendInput) (model.Receipt, error) {
	return model.Receipt{}, fail(CodeUnsupported, "Baseline adapter does not implement sendMessage yet.", false, nil)
}

func (a *BaselineAdapter) Subscribe(context.Context, SubscribeInput, Handlers) (Subscription, error) {
	return nil, fail(CodeUnsupported, "Baseline adapter does not implement subscribe yet.", false, nil)
}

func (a *BaselineAdapter) Reconcile(context.Context, ReconcileInput) (model.Projection, error) {
	return model.Projection{}, fail(CodeUnsupported, "Baseline adapter does not implement reconcile yet.", false, nil)
}
