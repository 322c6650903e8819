package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
)

// DimensionStore is an in-memory implementation of storage.DimensionStore.
// Useful for testing, development and `database.type: memory`.
type DimensionStore struct {
	mu       sync.RWMutex
	versions map[dimension.NaturalKey][]dimension.Version
	seq      *dimension.Sequence
}

// NewDimensionStore creates an empty store with its own key sequence.
func NewDimensionStore() *DimensionStore {
	return &DimensionStore{
		versions: make(map[dimension.NaturalKey][]dimension.Version),
		seq:      dimension.NewSequence(),
	}
}

// Load stores versions as-is, without any invariant checks. Intended for fixtures.
func (s *DimensionStore) Load(versions ...dimension.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range versions {
		c := v
		c.Attributes = v.Attributes.Clone()
		s.versions[v.NaturalKey] = append(s.versions[v.NaturalKey], c)
		s.seq.Observe(v.SurrogateKey)
	}
	for key := range s.versions {
		sortByValidFrom(s.versions[key])
	}
}

func (s *DimensionStore) Allocator() dimension.KeyAllocator {
	return s.seq
}

func (s *DimensionStore) GetCurrent(ctx context.Context, key dimension.NaturalKey) (*dimension.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, err := s.currentIndex(key)
	if err != nil || idx < 0 {
		return nil, err
	}
	v := copyVersion(s.versions[key][idx])
	return &v, nil
}

func (s *DimensionStore) GetAsOf(ctx context.Context, key dimension.NaturalKey, date time.Time) (*dimension.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *dimension.Version
	for i := range s.versions[key] {
		v := s.versions[key][i]
		if !v.Contains(date) {
			continue
		}
		if found != nil {
			return nil, &dimension.ConsistencyError{
				NaturalKey: key,
				Reason:     fmt.Sprintf("versions %d and %d both cover %s", found.SurrogateKey, v.SurrogateKey, date.Format(dimension.DateLayout)),
			}
		}
		c := copyVersion(v)
		found = &c
	}
	return found, nil
}

func (s *DimensionStore) CloseAndInsert(ctx context.Context, oldSK dimension.SurrogateKey, v dimension.Version) (dimension.SurrogateKey, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.currentIndex(v.NaturalKey)
	if err != nil {
		return 0, err
	}

	history := s.versions[v.NaturalKey]
	validFrom := dimension.Day(v.ValidFrom)

	switch {
	case oldSK == 0 && idx >= 0:
		return 0, fmt.Errorf("insert %s: key already has current version %d: %w", v.NaturalKey, history[idx].SurrogateKey, dimension.ErrConflict)
	case oldSK != 0 && idx < 0:
		return 0, fmt.Errorf("close %d: no current version: %w", oldSK, dimension.ErrConflict)
	case oldSK != 0 && history[idx].SurrogateKey != oldSK:
		return 0, fmt.Errorf("close %d: current version is %d: %w", oldSK, history[idx].SurrogateKey, dimension.ErrConflict)
	case idx >= 0 && !validFrom.After(history[idx].ValidFrom):
		return 0, &dimension.OutOfOrderError{
			NaturalKey:       v.NaturalKey,
			BusinessDate:     validFrom,
			CurrentValidFrom: history[idx].ValidFrom,
		}
	}

	next := dimension.NewVersion(v.NaturalKey, v.Attributes, validFrom)
	next.SurrogateKey = v.SurrogateKey
	if next.SurrogateKey == 0 {
		sk, err := s.seq.Next(ctx)
		if err != nil {
			return 0, fmt.Errorf("allocate surrogate key: %w", err)
		}
		next.SurrogateKey = sk
	} else {
		s.seq.Observe(next.SurrogateKey)
	}

	if idx >= 0 {
		history[idx] = history[idx].Closed(validFrom)
	}
	s.versions[v.NaturalKey] = append(history, next)
	return next.SurrogateKey, nil
}

func (s *DimensionStore) History(ctx context.Context, key dimension.NaturalKey) ([]dimension.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]dimension.Version, 0, len(s.versions[key]))
	for _, v := range s.versions[key] {
		out = append(out, copyVersion(v))
	}
	return out, nil
}

// currentIndex returns the index of the single current version, -1 if none.
// Caller holds the lock.
func (s *DimensionStore) currentIndex(key dimension.NaturalKey) (int, error) {
	idx := -1
	for i, v := range s.versions[key] {
		if !v.IsCurrent {
			continue
		}
		if idx >= 0 {
			return -1, &dimension.ConsistencyError{NaturalKey: key, Reason: "more than one current version"}
		}
		idx = i
	}
	return idx, nil
}

func copyVersion(v dimension.Version) dimension.Version {
	c := v
	c.Attributes = v.Attributes.Clone()
	return c
}

func sortByValidFrom(vs []dimension.Version) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].ValidFrom.Before(vs[j].ValidFrom) })
}
