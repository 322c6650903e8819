package dimension

import (
	"context"
	"sync/atomic"
)

// KeyAllocator hands out surrogate keys. Every call returns a key never returned
// before; keys allocated for a write that later fails are simply skipped.
type KeyAllocator interface {
	Next(ctx context.Context) (SurrogateKey, error)
}

// Sequence is an in-process monotonic allocator.
// Safe for concurrent use.
type Sequence struct {
	last atomic.Int64
}

// NewSequence creates a sequence whose first key is 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence that resumes after start, e.g. after reloading
// the highest surrogate key already stored.
func NewSequenceAt(start SurrogateKey) *Sequence {
	s := &Sequence{}
	s.last.Store(int64(start))
	return s
}

// Next returns the next key.
func (s *Sequence) Next(_ context.Context) (SurrogateKey, error) {
	return SurrogateKey(s.last.Add(1)), nil
}

// Observe advances the sequence so it never hands out k or anything below it.
func (s *Sequence) Observe(k SurrogateKey) {
	for {
		last := s.last.Load()
		if int64(k) <= last || s.last.CompareAndSwap(last, int64(k)) {
			return
		}
	}
}

// Current returns the last key handed out without advancing.
func (s *Sequence) Current() SurrogateKey {
	return SurrogateKey(s.last.Load())
}
