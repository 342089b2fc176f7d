// Package keys tracks the lifecycle of secure group keys.
package keys

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

// DefaultSessionTTL is the lifetime of an auto-registered session key.
const DefaultSessionTTL int64 = 24 * 60 * 60

// Use failure reasons.
const (
	ReasonNotRegistered = "Key state is not registered."
	ReasonUseFailed     = "GROUP_KEY_USE_FAILED"
)

// UseError reports why a key could not be used. State is set when the key exists.
type UseError struct {
	Reason string
	State  *model.KeyState
}

func (e *UseError) Error() string { return e.Reason }

func notUsable(st model.KeyState) *UseError {
	return &UseError{Reason: fmt.Sprintf("Key is not usable because it is %s.", st.Status), State: &st}
}

// RegisterInput describes a key to register. Zero CreatedAt uses the registry clock.
type RegisterInput struct {
	KeyID       string
	GroupID     string
	SecretClass model.SecretClass
	CreatedAt   int64
	ExpiresAt   int64
}

type registryKey struct{ group, key string }

// Registry holds key states keyed by (group, key) and the current session
// key generation of each group. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	byKey    map[registryKey]model.KeyState
	sessions map[string]int
	now      func() int64
}

// NewRegistry returns an empty registry. A nil clock uses wall time.
func NewRegistry(now func() int64) *Registry {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &Registry{byKey: map[registryKey]model.KeyState{}, sessions: map[string]int{}, now: now}
}

// terminalRank orders absorbing statuses. A terminal key may only move to a
// higher ranked terminal status.
var terminalRank = map[model.KeyStatus]int{
	model.KeyExpired:   1,
	model.KeyRevoked:   2,
	model.KeyDestroyed: 3,
}

// CanTransition reports whether a key in status from may move to status to.
func CanTransition(from, to model.KeyStatus) bool {
	if !from.Terminal() {
		return true
	}
	return terminalRank[to] > terminalRank[from]
}

func (r *Registry) at(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return r.now()
}

func usageCounters() map[model.KeyUseAction]int {
	return map[model.KeyUseAction]int{
		model.UseSend:      0,
		model.UseSubscribe: 0,
		model.UseReconcile: 0,
		model.UseControl:   0,
	}
}

func clone(st model.KeyState) model.KeyState {
	usage := make(map[model.KeyUseAction]int, len(st.UsageByAction))
	for k, v := range st.UsageByAction {
		usage[k] = v
	}
	st.UsageByAction = usage
	return st
}

// Register adds a key or refreshes an existing one. Re-registering updates
// class, expiry and updatedAt; creation time, status and counters are kept.
func (r *Registry) Register(in RegisterInput) model.KeyState {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.at(in.CreatedAt)
	k := registryKey{in.GroupID, in.KeyID}
	if cur, ok := r.byKey[k]; ok {
		cur.SecretClass = in.SecretClass
		cur.ExpiresAt = in.ExpiresAt
		cur.UpdatedAt = now
		r.byKey[k] = cur
		return clone(cur)
	}
	st := model.KeyState{
		KeyID:         in.KeyID,
		GroupID:       in.GroupID,
		SecretClass:   in.SecretClass,
		Status:        model.KeyActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     in.ExpiresAt,
		UsageByAction: usageCounters(),
	}
	r.byKey[k] = st
	return clone(st)
}

// Get returns the state of one key.
func (r *Registry) Get(groupID, keyID string) (model.KeyState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byKey[registryKey{groupID, keyID}]
	if !ok {
		return model.KeyState{}, false
	}
	return clone(st), true
}

// List returns the keys of a group, or all keys when groupID is empty,
// ordered by group then key id.
func (r *Registry) List(groupID string) []model.KeyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(groupID)
}

func (r *Registry) list(groupID string) []model.KeyState {
	out := make([]model.KeyState, 0, len(r.byKey))
	for k, st := range r.byKey {
		if groupID == "" || k.group == groupID {
			out = append(out, clone(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GroupID != out[j].GroupID {
			return out[i].GroupID < out[j].GroupID
		}
		return out[i].KeyID < out[j].KeyID
	})
	return out
}

// CountByStatus counts every registered key by status.
func (r *Registry) CountByStatus() map[model.KeyStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[model.KeyStatus]int{}
	for _, st := range r.byKey {
		out[st.Status]++
	}
	return out
}

// SetStatus changes the status of one key. It fails with errs.ErrNotFound
// for an unknown key and errs.ErrKeyTerminal when the key already reached
// an absorbing status that status does not outrank.
func (r *Registry) SetStatus(groupID, keyID string, status model.KeyStatus, at int64) (model.KeyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setStatus(registryKey{groupID, keyID}, status, r.at(at))
}

func (r *Registry) setStatus(k registryKey, status model.KeyStatus, now int64) (model.KeyState, error) {
	st, ok := r.byKey[k]
	if !ok {
		return model.KeyState{}, fmt.Errorf("key %s: %w", k.key, errs.ErrNotFound)
	}
	if !CanTransition(st.Status, status) {
		return clone(st), fmt.Errorf("key %s is %s: %w", k.key, st.Status, errs.ErrKeyTerminal)
	}
	st.Status = status
	st.UpdatedAt = now
	r.byKey[k] = st
	return clone(st), nil
}

// SetGroupStatus changes the status of every key of a group and returns the
// keys that changed. Keys held in an absorbing status are left alone.
func (r *Registry) SetGroupStatus(groupID string, status model.KeyStatus, at int64) []model.KeyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.at(at)
	var out []model.KeyState
	for _, st := range r.list(groupID) {
		if next, err := r.setStatus(registryKey{st.GroupID, st.KeyID}, status, now); err == nil {
			out = append(out, next)
		}
	}
	return out
}

// RevokeGroup marks every key of a group revoked.
func (r *Registry) RevokeGroup(groupID string, at int64) []model.KeyState {
	return r.SetGroupStatus(groupID, model.KeyRevoked, at)
}

// EnforceExpiry flips every non-terminal key with expiresAt <= at to
// expired and returns the keys just transitioned. An empty groupID scans all groups.
func (r *Registry) EnforceExpiry(groupID string, at int64) []model.KeyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enforceExpiry(groupID, r.at(at))
}

func (r *Registry) enforceExpiry(groupID string, now int64) []model.KeyState {
	var expired []model.KeyState
	for _, st := range r.list(groupID) {
		if st.Status.Terminal() || st.ExpiresAt == 0 || now < st.ExpiresAt {
			continue
		}
		next, _ := r.setStatus(registryKey{st.GroupID, st.KeyID}, model.KeyExpired, now)
		expired = append(expired, next)
	}
	return expired
}

// RecordUse counts one use of a key. Expiry is enforced first. The error is
// a *UseError when the key is missing or terminal.
func (r *Registry) RecordUse(groupID, keyID string, action model.KeyUseAction, at int64) (model.KeyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordUse(groupID, keyID, action, r.at(at))
}

func (r *Registry) recordUse(groupID, keyID string, action model.KeyUseAction, now int64) (model.KeyState, error) {
	r.enforceExpiry(groupID, now)

	k := registryKey{groupID, keyID}
	st, ok := r.byKey[k]
	if !ok {
		return model.KeyState{}, &UseError{Reason: ReasonNotRegistered}
	}
	if st.Status.Terminal() {
		return clone(st), notUsable(clone(st))
	}
	st = clone(st)
	st.UpdatedAt = now
	st.LastUsedAt = now
	st.UseCount++
	st.UsageByAction[action]++
	r.byKey[k] = st
	return clone(st), nil
}

// Reset drops every key.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey = map[registryKey]model.KeyState{}
	r.sessions = map[string]int{}
}

// Renew installs fresh key material under a key id that is new or still
// live: the key becomes active with reset counters and a new expiry.
// ttl <= 0 means no expiry. A key in an absorbing status cannot be renewed;
// rotate the group session with RotateSession instead.
func (r *Registry) Renew(in RegisterInput, ttl int64) (model.KeyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := registryKey{in.GroupID, in.KeyID}
	cur, exists := r.byKey[k]
	if exists && cur.Status.Terminal() {
		return clone(cur), fmt.Errorf("renew %s: %w", in.KeyID, errs.ErrKeyTerminal)
	}
	class := in.SecretClass
	if exists && class == "" {
		class = cur.SecretClass
	}
	st := r.fresh(k, class, r.at(in.CreatedAt), ttl)
	r.byKey[k] = st
	return clone(st), nil
}

func (r *Registry) fresh(k registryKey, class model.SecretClass, now, ttl int64) model.KeyState {
	var expires int64
	if ttl > 0 {
		expires = now + ttl
	}
	return model.KeyState{
		KeyID:         k.key,
		GroupID:       k.group,
		SecretClass:   class,
		Status:        model.KeyActive,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     expires,
		UsageByAction: usageCounters(),
	}
}

// Restore installs previously saved states verbatim, replacing any key with
// the same id, and resumes each group at its newest session key generation.
// States without a group or key id are skipped.
func (r *Registry) Restore(states []model.KeyState) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, st := range states {
		if st.GroupID == "" || st.KeyID == "" {
			continue
		}
		st = clone(st)
		for a, v := range usageCounters() {
			if _, ok := st.UsageByAction[a]; !ok {
				st.UsageByAction[a] = v
			}
		}
		r.byKey[registryKey{st.GroupID, st.KeyID}] = st
		if gen, ok := sessionGeneration(st.GroupID, st.KeyID); ok && gen > r.sessions[st.GroupID] {
			r.sessions[st.GroupID] = gen
		}
		n++
	}
	return n
}
