package store

import (
	"context"
	"encoding/json"
	"fmt"

	"localqueue/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks localqueue/internal/store TaskStore

// TaskStore owns the canonical copy of every task record. Implementations
// must be safe for concurrent use and apply each Update atomically, running
// domain.Patch.Apply inside their read-modify-write.
type TaskStore interface {
	// Create inserts a new record, failing with domain.ErrDuplicateID if the id exists.
	Create(ctx context.Context, rec domain.TaskRecord) error
	// Get returns a snapshot of the record or domain.ErrNotFound.
	Get(ctx context.Context, id string) (domain.TaskRecord, error)
	// List returns the records matching f, newest created first.
	List(ctx context.Context, f domain.Filter) ([]domain.TaskRecord, error)
	// Update merges p into the stored record and returns the result.
	Update(ctx context.Context, id string, p domain.Patch) (domain.TaskRecord, error)
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
}

func duplicate(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
}

// encodeMap stores nil as SQL NULL.
func encodeMap(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func decodeMap(s *string) (map[string]any, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(*s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
