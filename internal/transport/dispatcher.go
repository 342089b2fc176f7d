package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/tierpolicy"
)

// Options tune one dispatch. The zero value allows capability fallback at tier 0.
type Options struct {
	Snapshot           *model.CapabilitySnapshot
	DisallowFallback   bool
	Tier               model.MissionTier
	DowngradeConfirmed bool
	AllowTier2Override bool
	Observer           Observer
}

// Result is a successful dispatch.
type Result struct {
	Mode     model.TransportMode
	Receipt  model.Receipt
	Override *tierpolicy.OverrideEvent
}

// Dispatcher resolves intents to adapters. Registered adapters take priority
// over the defaults; baseline is the unconditional fallback.
type Dispatcher struct {
	mu        sync.RWMutex
	adapters  []Adapter
	baseline  Adapter
	observers []Observer
	log       *zap.Logger
}

// NewDispatcher builds a dispatcher over defaults in priority order. baseline
// is used when no adapter accepts the requested mode and need not be listed in defaults.
func NewDispatcher(log *zap.Logger, baseline Adapter, defaults ...Adapter) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		adapters: append([]Adapter(nil), defaults...),
		baseline: baseline,
		log:      log,
	}
}

// Register puts a at the front of the resolution order.
func (d *Dispatcher) Register(a Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters = append([]Adapter{a}, d.adapters...)
}

// AddObserver attaches an observer to every dispatch.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Adapters returns the resolution order.
func (d *Dispatcher) Adapters() []Adapter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Adapter(nil), d.adapters...)
}

// Adapter returns the first adapter serving mode.
func (d *Dispatcher) Adapter(mode model.TransportMode) (Adapter, bool) {
	for _, a := range d.Adapters() {
		if a.Mode() == mode {
			return a, true
		}
	}
	if d.baseline != nil && d.baseline.Mode() == mode {
		return d.baseline, true
	}
	return nil, false
}

// Resolve returns the first adapter accepting the requested mode, else baseline.
func (d *Dispatcher) Resolve(requested model.TransportMode, snap *model.CapabilitySnapshot) Adapter {
	for _, a := range d.Adapters() {
		if a.CanOperate(requested, snap).OK {
			return a
		}
	}
	return d.baseline
}

func (d *Dispatcher) emit(diag Diagnostic, extra Observer) {
	switch diag.Kind {
	case DiagResolved:
		d.log.Debug("group transport resolved", diag.fields()...)
	case DiagFallback, DiagTierOverride:
		d.log.Info("group transport "+string(diag.Kind), diag.fields()...)
	default:
		d.log.Warn("group transport "+string(diag.Kind), diag.fields()...)
	}

	d.mu.RLock()
	obs := append([]Observer(nil), d.observers...)
	d.mu.RUnlock()
	for _, o := range obs {
		o.Observe(diag)
	}
	if extra != nil {
		extra.Observe(diag)
	}
}

// Dispatch validates the intent, resolves an adapter, applies tier policy and
// publishes. Validation and policy failures happen before any adapter call.
func (d *Dispatcher) Dispatch(ctx context.Context, in model.Intent, opts Options) (Result, error) {
	if err := ValidateIntent(in); err != nil {
		return Result{}, err
	}

	var gate *Gate
	if requested, ok := d.Adapter(in.RequestedMode); ok {
		g := requested.CanOperate(in.RequestedMode, opts.Snapshot)
		gate = &g
		if !g.OK && opts.DisallowFallback {
			d.emit(Diagnostic{
				Kind:          DiagCapabilityBlocked,
				Intent:        in,
				RequestedMode: in.RequestedMode,
				Tier:          opts.Tier,
				Reason:        g.Reason,
			}, opts.Observer)
			reason := g.Reason
			if reason == "" {
				reason = "unavailable"
			}
			return Result{}, fail(CodeCapabilityBlocked,
				fmt.Sprintf("Capability gate blocked requested mode '%s': %s", in.RequestedMode, reason), false, nil)
		}
	}

	resolved := d.Resolve(in.RequestedMode, opts.Snapshot)
	if resolved == nil {
		return Result{}, fail(CodeDispatchFailed, "No group transport adapter is available.", false, nil)
	}
	mode := resolved.Mode()
	d.emit(Diagnostic{Kind: DiagResolved, Intent: in, RequestedMode: in.RequestedMode, ResolvedMode: mode, Tier: opts.Tier}, opts.Observer)

	if mode != in.RequestedMode {
		var reason string
		if gate != nil && !gate.OK {
			reason = gate.Reason
		}
		d.emit(Diagnostic{
			Kind:          DiagFallback,
			Intent:        in,
			RequestedMode: in.RequestedMode,
			ResolvedMode:  mode,
			Tier:          opts.Tier,
			Reason:        reason,
		}, opts.Observer)
	}

	decision := tierpolicy.Evaluate(tierpolicy.Input{
		Tier:               opts.Tier,
		GroupID:            in.Payload.GroupID,
		ActorRole:          in.ActorRole,
		RequestedMode:      in.RequestedMode,
		ResolvedMode:       mode,
		DowngradeConfirmed: opts.DowngradeConfirmed,
		AllowTier2Override: opts.AllowTier2Override,
		Now:                in.CreatedAt,
	})
	if !decision.Allowed() {
		d.emit(Diagnostic{
			Kind:          DiagTierPolicyBlocked,
			Intent:        in,
			RequestedMode: in.RequestedMode,
			ResolvedMode:  mode,
			Tier:          opts.Tier,
			Reason:        decision.Reason,
		}, opts.Observer)
		return Result{}, &PolicyError{Tier: int(opts.Tier), Reason: decision.Reason}
	}
	if decision.Override != nil {
		d.emit(Diagnostic{
			Kind:          DiagTierOverride,
			Intent:        in,
			RequestedMode: in.RequestedMode,
			ResolvedMode:  mode,
			Tier:          opts.Tier,
			Reason:        decision.Override.Reason,
			Override:      decision.Override,
		}, opts.Observer)
	}

	receipt, err := resolved.PublishControl(ctx, in)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			err = fail(CodeDispatchFailed, err.Error(), true, err)
		}
		return Result{Mode: mode, Override: decision.Override}, err
	}
	return Result{Mode: mode, Receipt: receipt, Override: decision.Override}, nil
}
