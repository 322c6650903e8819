package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
)

// FactStore is an in-memory implementation of storage.FactStore.
type FactStore struct {
	mu         sync.RWMutex
	partitions map[string][]fact.Row
}

// NewFactStore creates an empty fact store.
func NewFactStore() *FactStore {
	return &FactStore{partitions: make(map[string][]fact.Row)}
}

func (s *FactStore) ReplacePartition(ctx context.Context, date time.Time, rows []fact.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Store a copy to prevent external modification
	stored := make([]fact.Row, len(rows))
	copy(stored, rows)
	fact.SortRows(stored)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[dimension.Day(date).Format(dimension.DateLayout)] = stored
	return nil
}

func (s *FactStore) ListPartition(ctx context.Context, date time.Time) ([]fact.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.partitions[dimension.Day(date).Format(dimension.DateLayout)]
	out := make([]fact.Row, len(rows))
	copy(out, rows)
	return out, nil
}
