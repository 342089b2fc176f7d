package feedback

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

func TestNormalizeAck(t *testing.T) {
	ack := NormalizeAck(model.Receipt{AckedRelays: []string{"a"}, PublishedTo: []string{"b", "c"}})
	require.Equal(t, Ack{OK: true, AckCount: 1, RelayCount: 1, AckedRelays: []string{"a"}}, ack)

	ack = NormalizeAck(model.Receipt{PublishedTo: []string{"b", "c"}, Relays: []string{"d"}})
	require.Equal(t, 2, ack.AckCount)

	ack = NormalizeAck(model.Receipt{Relays: []string{"d"}})
	require.Equal(t, []string{"d"}, ack.AckedRelays)

	ack = NormalizeAck(model.Receipt{})
	require.False(t, ack.OK)
	require.Zero(t, ack.RelayCount)
	require.Empty(t, ack.AckedRelays)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		reason    Reason
		retryable bool
	}{
		{"sentinel permission", fmt.Errorf("%w for action: create", errs.ErrPermissionDenied), ReasonPermissionDenied, false},
		{"sentinel validation", fmt.Errorf("x: %w", errs.ErrValidation), ReasonInvalidInput, false},
		{"sentinel capability", errs.ErrCapabilityBlocked, ReasonCapabilityBlocked, false},
		{"sentinel policy", errs.ErrPolicyBlocked, ReasonPolicyBlocked, false},
		{"sentinel unsupported", errs.ErrUnsupported, ReasonUnsupported, false},
		{"sentinel dispatch", errs.ErrDispatchFailed, ReasonPublishFailed, true},
		{"text permission", errors.New("Permission denied for action: leave"), ReasonPermissionDenied, false},
		{"text invalid", errors.New("Invalid group address."), ReasonInvalidInput, false},
		{"text capability", errors.New("Capability gate blocked requested mode"), ReasonCapabilityBlocked, false},
		{"text policy", errors.New("Tier policy blocked: Tier 2 requires secure mode lock."), ReasonPolicyBlocked, false},
		{"text relay", errors.New("relay timeout"), ReasonPublishFailed, true},
		{"text publish", errors.New("could not publish"), ReasonPublishFailed, true},
		{"unknown", errors.New("boom"), ReasonUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := MapError(tt.err)
			require.False(t, out.OK)
			require.Equal(t, tt.reason, out.Reason)
			require.Equal(t, tt.retryable, out.Retryable)
			require.Equal(t, tt.err.Error(), out.Message)
			require.NotEmpty(t, UIMessage(out.Reason))
		})
	}
	require.True(t, MapError(nil).OK)
}

func TestRetry(t *testing.T) {
	calls := 0
	out := Retry(context.Background(), 2, func(context.Context) Outcome {
		calls++
		return MapError(errs.ErrPublishFailed)
	})
	require.Equal(t, 3, calls)
	require.Equal(t, ReasonPublishFailed, out.Reason)

	calls = 0
	Retry(context.Background(), 5, func(context.Context) Outcome {
		calls++
		return MapError(errs.ErrPolicyBlocked)
	})
	require.Equal(t, 1, calls)

	calls = 0
	out = Retry(context.Background(), 5, func(context.Context) Outcome {
		calls++
		if calls < 2 {
			return MapError(errors.New("relay down"))
		}
		return Success(model.Receipt{AckedRelays: []string{"a"}})
	})
	require.True(t, out.OK)
	require.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	Retry(ctx, 5, func(context.Context) Outcome {
		calls++
		return MapError(errs.ErrDispatchFailed)
	})
	require.Equal(t, 1, calls)
}

func TestCreateMessage(t *testing.T) {
	require.Equal(t, "Group created with 2 relay acknowledgements.", CreateMessage(Success(model.Receipt{Relays: []string{"a", "b"}})))
	require.Equal(t, "Group created, awaiting relay acknowledgements.", CreateMessage(Success(model.Receipt{})))
	require.Equal(t, UIMessage(ReasonPolicyBlocked), CreateMessage(MapError(errs.ErrPolicyBlocked)))
	require.Equal(t, UIMessage(ReasonUnknown), UIMessage("nope"))
}
