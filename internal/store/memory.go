package store

import (
	"context"
	"sort"
	"sync"

	"localqueue/internal/domain"
)

type memEntry struct {
	seq uint64
	rec domain.TaskRecord
}

// MemoryStore keeps records in a map guarded by a single lock. Records are
// copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	seq  uint64
	recs map[string]*memEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[string]*memEntry{}}
}

func (s *MemoryStore) Create(ctx context.Context, rec domain.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[rec.ID]; ok {
		return duplicate(rec.ID)
	}
	s.seq++
	s.recs[rec.ID] = &memEntry{seq: s.seq, rec: rec.Clone()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (domain.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.recs[id]
	if !ok {
		return domain.TaskRecord{}, notFound(id)
	}
	return e.rec.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error) {
	s.mu.RLock()
	matched := make([]*memEntry, 0, len(s.recs))
	for _, e := range s.recs {
		if f.Match(e.rec) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]domain.TaskRecord, 0, len(matched))
	for _, e := range matched {
		out = append(out, e.rec.Clone())
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, p domain.Patch) (domain.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.recs[id]
	if !ok {
		return domain.TaskRecord{}, notFound(id)
	}
	if err := p.Apply(&e.rec); err != nil {
		return domain.TaskRecord{}, err
	}
	return e.rec.Clone(), nil
}
