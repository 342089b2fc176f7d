package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
	"github.com/navcom/groupctl/internal/securestore"
)

// vaultState is the encrypted per-group payload.
type vaultState struct {
	Keys []model.KeyState `json:"keys"`
}

// KeyVault persists the key registry as encrypted secure group state, one
// record per group under the operator account.
type KeyVault struct {
	store   securestore.Store
	codec   *securestore.Codec
	reg     *keys.Registry
	account string
	log     *zap.Logger
	now     func() int64
}

// NewKeyVault wires a vault for account.
func NewKeyVault(store securestore.Store, codec *securestore.Codec, reg *keys.Registry, account string, log *zap.Logger, now func() int64) *KeyVault {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &KeyVault{store: store, codec: codec, reg: reg, account: account, log: log, now: now}
}

// Save writes the keys of every group and returns how many groups were stored.
func (v *KeyVault) Save(ctx context.Context) (int, error) {
	byGroup := map[string][]model.KeyState{}
	for _, st := range v.reg.List("") {
		byGroup[st.GroupID] = append(byGroup[st.GroupID], st)
	}
	now := v.now()
	n := 0
	for g, states := range byGroup {
		if _, err := securestore.Write(ctx, v.store, v.codec, v.account, g, vaultState{Keys: states}, now); err != nil {
			return n, fmt.Errorf("save keys of %s: %w", g, err)
		}
		n++
	}
	return n, nil
}

// RestoreResult reports one group restore.
type RestoreResult struct {
	GroupID    string
	Restored   int
	Corruption securestore.Corruption
	Recovered  bool
}

// Restore loads every stored group into the registry. Corrupted records are
// rehydrated from keys already held in memory when there are any.
func (v *KeyVault) Restore(ctx context.Context) ([]RestoreResult, error) {
	recs, err := v.store.ListByAccount(ctx, v.account)
	if err != nil {
		return nil, fmt.Errorf("list secure state: %w", err)
	}
	out := make([]RestoreResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, v.restore(ctx, rec.GroupID))
	}
	return out, nil
}

func (v *KeyVault) restore(ctx context.Context, groupID string) RestoreResult {
	res := RestoreResult{GroupID: groupID}
	fetch := func(context.Context) (any, error) {
		held := v.reg.List(groupID)
		if len(held) == 0 {
			return nil, nil
		}
		return vaultState{Keys: held}, nil
	}

	var st vaultState
	lr, err := securestore.Load(ctx, v.store, v.codec, v.account, groupID, &st, fetch, v.now())
	res.Corruption = lr.Corruption
	if err != nil {
		v.log.Warn("secure state not loaded", zap.String("group", groupID), zap.Error(err))
		return res
	}
	if lr.Corruption.Corrupted {
		res.Recovered = lr.Rehydration != nil && lr.Rehydration.OK
		v.log.Warn("secure state corrupted",
			zap.String("group", groupID),
			zap.String("reason", lr.Corruption.Reason),
			zap.Bool("recovered", res.Recovered),
			zap.String("remediation", lr.Corruption.Message()))
		if !res.Recovered {
			return res
		}
	}
	res.Restored = v.reg.Restore(st.Keys)
	return res
}

// Wipe deletes the stored state of one group, or of every group when groupID is empty.
func (v *KeyVault) Wipe(ctx context.Context, groupID string) (securestore.WipeResult, error) {
	return securestore.Wipe(ctx, v.store, securestore.WipeScope{AccountID: v.account, GroupID: groupID})
}
