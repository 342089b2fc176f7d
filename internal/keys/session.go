package keys

import (
	"strconv"
	"strings"

	"github.com/navcom/groupctl/internal/model"
)

// SessionKeyID returns the id of the first secure transport session key of a group.
func SessionKeyID(groupID string) string { return "secure-session:" + groupID }

// SessionKeyIDAt returns the session key id of a group at generation gen.
// Generation 0 is SessionKeyID; every rotation adds one.
func SessionKeyIDAt(groupID string, gen int) string {
	if gen <= 0 {
		return SessionKeyID(groupID)
	}
	return SessionKeyID(groupID) + "#" + strconv.Itoa(gen)
}

func sessionGeneration(groupID, keyID string) (int, bool) {
	rest, ok := strings.CutPrefix(keyID, SessionKeyID(groupID))
	if !ok {
		return 0, false
	}
	if rest == "" {
		return 0, true
	}
	digits, ok := strings.CutPrefix(rest, "#")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// SessionUse is the outcome of PrepareSessionUse.
type SessionUse struct {
	KeyID string
	State model.KeyState
}

// CurrentSessionKeyID returns the id of the session key a group uses now.
func (r *Registry) CurrentSessionKeyID(groupID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SessionKeyIDAt(groupID, r.sessions[groupID])
}

// PrepareSessionUse registers the current group session key on first use
// (class S2, expiring after ttl seconds) and records one use of it.
// ttl <= 0 uses DefaultSessionTTL.
func (r *Registry) PrepareSessionUse(groupID string, action model.KeyUseAction, at, ttl int64) (SessionUse, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.at(at)
	keyID := SessionKeyIDAt(groupID, r.sessions[groupID])
	k := registryKey{groupID, keyID}
	if _, ok := r.byKey[k]; !ok {
		r.byKey[k] = r.fresh(k, model.SecretS2, now, ttl)
	}

	st, err := r.recordUse(groupID, keyID, action, now)
	return SessionUse{KeyID: keyID, State: st}, err
}

// SessionState returns the current session key state of a group.
func (r *Registry) SessionState(groupID string) (model.KeyState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byKey[registryKey{groupID, SessionKeyIDAt(groupID, r.sessions[groupID])}]
	if !ok {
		return model.KeyState{}, false
	}
	return clone(st), true
}

// RotateSession replaces the group session key with a key under the next
// generation id and makes it current. The previous key is destroyed unless
// it already sits in an absorbing status, which it keeps. ttl <= 0 uses
// DefaultSessionTTL; an empty class keeps the previous class, else S2.
func (r *Registry) RotateSession(groupID string, class model.SecretClass, at, ttl int64) model.KeyState {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.at(at)
	gen := r.sessions[groupID]
	prev := registryKey{groupID, SessionKeyIDAt(groupID, gen)}
	if cur, ok := r.byKey[prev]; ok {
		if class == "" {
			class = cur.SecretClass
		}
		if !cur.Status.Terminal() {
			_, _ = r.setStatus(prev, model.KeyDestroyed, now)
		}
	}
	if class == "" {
		class = model.SecretS2
	}

	var next registryKey
	for gen++; ; gen++ {
		next = registryKey{groupID, SessionKeyIDAt(groupID, gen)}
		if _, taken := r.byKey[next]; !taken {
			break
		}
	}
	st := r.fresh(next, class, now, ttl)
	r.byKey[next] = st
	r.sessions[groupID] = gen
	return clone(st)
}
