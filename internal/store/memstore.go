package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory Store used by reconcile/httpapi tests. It is not
// exported for production use; the real backend is PGStore.
type MemStore struct {
	mu   sync.Mutex
	rows map[int64]Row
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[int64]Row)}
}

func (m *MemStore) CurrentTableVersion(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, r := range m.rows {
		if r.TVer > max {
			max = r.TVer
		}
	}
	return max, nil
}

func (m *MemStore) ScanSince(ctx context.Context, cursor int64, includeHeader bool) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for _, r := range m.rows {
		if r.TVer > cursor || (includeHeader && r.ID == 0) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) Read(ctx context.Context, id int64) (*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		cp := r
		return &cp, nil
	}
	return nil, nil
}

func (m *MemStore) FetchHeader(ctx context.Context) (*Row, error) {
	return m.Read(ctx, 0)
}

func (m *MemStore) UpdateIf(ctx context.Context, id, expectedPrevVersion, newVersion, tver int64, user, data string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.Version != expectedPrevVersion {
		return false, nil
	}
	m.rows[id] = Row{ID: id, Version: newVersion, TVer: tver, User: user, Data: data}
	return true, nil
}

func (m *MemStore) Insert(ctx context.Context, id int64, version, tver int64, user, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id] = Row{ID: id, Version: version, TVer: tver, User: user, Data: data}
	return nil
}

func (m *MemStore) MaxID(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := int64(-1)
	for id := range m.rows {
		if id > max {
			max = id
		}
	}
	return max, nil
}

// WithTx on MemStore has no real transaction semantics (single-threaded
// tests only); it snapshots and restores on error so that a failing fn
// leaves the store unchanged, mirroring a rollback.
func (m *MemStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	m.mu.Lock()
	snapshot := make(map[int64]Row, len(m.rows))
	for k, v := range m.rows {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := fn(ctx, m); err != nil {
		m.mu.Lock()
		m.rows = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}
