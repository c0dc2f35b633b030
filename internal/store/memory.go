package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory. It follows the same upsert
// rules as the database backends.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	records []Record
	byDocID map[string]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{byDocID: make(map[string]int)}
}

func (m *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "save", Err: err}
	}
	cp := clone(*rec)

	m.mu.Lock()
	defer m.mu.Unlock()

	if cp.DocumentID != "" {
		if i, ok := m.byDocID[cp.DocumentID]; ok {
			cp.ID = m.records[i].ID
			m.records[i] = cp
			return nil
		}
	}
	m.nextID++
	cp.ID = m.nextID
	m.records = append(m.records, cp)
	if cp.DocumentID != "" {
		m.byDocID[cp.DocumentID] = len(m.records) - 1
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, documentID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.byDocID[documentID]
	if !ok {
		return nil, nil
	}
	rec := clone(m.records[i])
	return &rec, nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, clone(r))
	}
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records), nil
}

func (m *MemoryStore) Close() error { return nil }

func clone(r Record) Record {
	r.Authors = orEmpty(r.Authors)
	r.Categories = orEmpty(r.Categories)
	r.Images = orEmpty(r.Images)
	r.Keywords = orEmpty(r.Keywords)
	return r
}
