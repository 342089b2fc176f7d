package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/securestore"
)

func vaultCodec(root string) *securestore.Codec {
	return securestore.NewCodec([]byte(root)).WithKDF(securestore.KDFParams{Time: 1, Memory: 64, Threads: 1})
}

func TestKeyVault_SaveRestore(t *testing.T) {
	ctx := context.Background()
	now := func() int64 { return 1000 }
	store := securestore.NewMemoryStore()

	reg := keys.NewRegistry(now)
	reg.Register(keys.RegisterInput{GroupID: "relay.example'a", KeyID: "k1", SecretClass: model.SecretS2})
	reg.Register(keys.RegisterInput{GroupID: "relay.example'b", KeyID: "k2", SecretClass: model.SecretS2})
	_, err := reg.RecordUse("relay.example'a", "k1", model.UseSend, 0)
	require.NoError(t, err)

	n, err := NewKeyVault(store, vaultCodec("root"), reg, "op", zaptest.NewLogger(t), now).Save(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	fresh := keys.NewRegistry(now)
	res, err := NewKeyVault(store, vaultCodec("root"), fresh, "op", zaptest.NewLogger(t), now).Restore(ctx)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		require.False(t, r.Corruption.Corrupted)
		require.Equal(t, 1, r.Restored)
	}
	st, ok := fresh.Get("relay.example'a", "k1")
	require.True(t, ok)
	require.Equal(t, 1, st.UseCount)
}

func TestKeyVault_WrongRootIsCorruption(t *testing.T) {
	ctx := context.Background()
	now := func() int64 { return 1000 }
	store := securestore.NewMemoryStore()

	reg := keys.NewRegistry(now)
	reg.Register(keys.RegisterInput{GroupID: "g", KeyID: "k1"})
	_, err := NewKeyVault(store, vaultCodec("root"), reg, "op", nil, now).Save(ctx)
	require.NoError(t, err)

	fresh := keys.NewRegistry(now)
	res, err := NewKeyVault(store, vaultCodec("other"), fresh, "op", nil, now).Restore(ctx)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.True(t, res[0].Corruption.Corrupted)
	require.Equal(t, securestore.CorruptDecryptFailure, res[0].Corruption.Reason)
	require.False(t, res[0].Recovered)
	require.Empty(t, fresh.List(""))
}

func TestKeyVault_RehydratesFromMemory(t *testing.T) {
	ctx := context.Background()
	now := func() int64 { return 1000 }
	store := securestore.NewMemoryStore()

	reg := keys.NewRegistry(now)
	reg.Register(keys.RegisterInput{GroupID: "g", KeyID: "k1"})
	_, err := NewKeyVault(store, vaultCodec("root"), reg, "op", nil, now).Save(ctx)
	require.NoError(t, err)

	// Decrypting with another root fails, but the registry still holds the keys.
	v := NewKeyVault(store, vaultCodec("other"), reg, "op", nil, now)
	res, err := v.Restore(ctx)
	require.NoError(t, err)
	require.True(t, res[0].Corruption.Corrupted)
	require.True(t, res[0].Recovered)
	require.Equal(t, 1, res[0].Restored)

	wiped, err := v.Wipe(ctx, "")
	require.NoError(t, err)
	require.True(t, wiped.OK)
	require.Equal(t, []string{securestore.RecordID("op", "g")}, wiped.WipedIDs)
}
