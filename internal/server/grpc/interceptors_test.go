package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/service"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	ic := LoggingUnary(zaptest.NewLogger(t))
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodDispatch)}

	resp, err := ic(ctx, "req", info, func(ctx context.Context, req any) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	_, err = ic(ctx, "req", info, func(ctx context.Context, req any) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestLoggingUnary_Levels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	ic := LoggingUnary(zap.New(core))
	ctx := WithActor(context.Background(), service.Actor{Pubkey: "p", Role: model.RoleAdmin})
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodRevokeDevice)}

	_, _ = ic(ctx, nil, info, func(context.Context, any) (any, error) { return nil, nil })
	_, _ = ic(ctx, nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Unavailable, "relay")
	})
	_, _ = ic(ctx, nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.Internal, "x")
	})

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != want[i] {
			t.Fatalf("entry %d: level %v, want %v", i, e.Level, want[i])
		}
		if e.ContextMap()["role"] != "admin" {
			t.Fatalf("entry %d: missing role field", i)
		}
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodDispatch)}

	_, err := ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	})
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	ic := RecoverUnary(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: FullMethod(MethodListGroups)}

	resp, err := ic(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		return 42, nil
	})
	if err != nil || resp.(int) != 42 {
		t.Fatalf("unexpected: resp=%v err=%v", resp, err)
	}
}
