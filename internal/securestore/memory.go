package securestore

import (
	"context"
	"sort"

	"github.com/puzpuzpuz/xsync"

	"github.com/navcom/groupctl/internal/errs"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	byID *xsync.MapOf[string, Record]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: xsync.NewMapOf[Record]()}
}

func (m *MemoryStore) Put(_ context.Context, r Record) error {
	m.byID.Store(r.ID, r)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	r, ok := m.byID.Load(id)
	if !ok {
		return Record{}, errs.ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.byID.Delete(id)
	return nil
}

func (m *MemoryStore) ListByAccount(_ context.Context, accountID string) ([]Record, error) {
	var out []Record
	m.byID.Range(func(_ string, r Record) bool {
		if r.AccountID == accountID {
			out = append(out, r)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
