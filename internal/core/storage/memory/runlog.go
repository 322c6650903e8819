package memory

import (
	"context"
	"sync"

	"github.com/aevon-lab/dimledger/internal/core/storage"
)

// RunLog is an in-memory, append-only storage.RunLog.
type RunLog struct {
	mu      sync.RWMutex
	records []storage.RunRecord
}

// NewRunLog creates an empty run log.
func NewRunLog() *RunLog {
	return &RunLog{}
}

func (l *RunLog) Append(ctx context.Context, rec storage.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec.Errors = append([]string(nil), rec.Errors...)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *RunLog) List(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]storage.RunRecord, 0, n)
	for i := len(l.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.records[i])
	}
	return out, nil
}
