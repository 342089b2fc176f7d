package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"
)

type entry struct {
	mu           sync.Mutex
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is an in-process limiter used when no database is configured.
type Memory struct {
	entries *xsync.MapOf[string, *entry]
	set     Settings
	now     func() time.Time
}

// NewMemory constructs an in-process limiter. A nil now uses time.Now.
func NewMemory(s Settings, now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: xsync.NewMapOf[*entry](), set: s.resolve(), now: now}
}

func memKey(actor, groupID string) string { return actor + "\x00" + groupID }

func (m *Memory) get(actor, groupID string) *entry {
	e, _ := m.entries.LoadOrStore(memKey(actor, groupID), &entry{})
	return e
}

// Allow reports whether dispatch is currently allowed.
func (m *Memory) Allow(_ context.Context, actor, groupID string) (bool, time.Duration, error) {
	e, ok := m.entries.Load(memKey(actor, groupID))
	if !ok {
		return true, 0, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := m.now()
	if e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the (actor, group) counters.
func (m *Memory) Success(_ context.Context, actor, groupID string) error {
	m.entries.Delete(memKey(actor, groupID))
	return nil
}

// Failure records a denied dispatch.
func (m *Memory) Failure(_ context.Context, actor, groupID string) (bool, time.Duration, error) {
	e := m.get(actor, groupID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.now()
	if now.Sub(e.updatedAt) > m.set.Window {
		e.fails = 0
	}
	e.fails++
	e.updatedAt = now
	if e.fails < m.set.MaxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(m.set.BlockFor)
	return true, m.set.BlockFor, nil
}
