package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
)

// ErrNotFound is returned by lookups that address a single record that does not exist.
var ErrNotFound = errors.New("record not found")

// DimensionStore persists the versioned customer dimension.
type DimensionStore interface {
	// GetCurrent returns the open version of key, or nil when the key was never seen.
	// More than one current version yields a *dimension.ConsistencyError.
	GetCurrent(ctx context.Context, key dimension.NaturalKey) (*dimension.Version, error)

	// GetAsOf returns the version whose inclusive window contains date, or nil.
	// Overlapping windows yield a *dimension.ConsistencyError.
	GetAsOf(ctx context.Context, key dimension.NaturalKey, date time.Time) (*dimension.Version, error)

	// CloseAndInsert atomically closes the current version oldSK (valid_to = v.ValidFrom - 1 day)
	// and inserts v as the new current version. oldSK == 0 means there is no version to close.
	// Nothing is written when it returns an error. A zero v.SurrogateKey is allocated.
	CloseAndInsert(ctx context.Context, oldSK dimension.SurrogateKey, v dimension.Version) (dimension.SurrogateKey, error)

	// History returns every version of key ordered by valid_from.
	History(ctx context.Context, key dimension.NaturalKey) ([]dimension.Version, error)

	// Allocator returns the surrogate key source backing this store.
	Allocator() dimension.KeyAllocator
}

// FactStore persists the daily booking fact, one partition per business date.
type FactStore interface {
	// ReplacePartition deletes every row of date and writes rows, all-or-nothing.
	// Concurrent replaces of the same date are serialized.
	ReplacePartition(ctx context.Context, date time.Time, rows []fact.Row) error

	// ListPartition returns the rows of date ordered by (category, natural_key).
	ListPartition(ctx context.Context, date time.Time) ([]fact.Row, error)
}

// Run kinds.
const (
	RunKindMerge     = "merge"
	RunKindAggregate = "aggregate"
)

// Run statuses.
const (
	RunStatusSuccess  = "success"
	RunStatusRejected = "rejected"
	RunStatusFailed   = "failed"
)

// RunRecord is one append-only audit entry for an engine invocation.
type RunRecord struct {
	RunID           string
	Kind            string
	BusinessDate    time.Time
	Status          string
	StartedAt       time.Time
	FinishedAt      time.Time
	RowsRead        int
	VersionsCreated int
	VersionsClosed  int
	Unchanged       int
	FactRowsWritten int
	OrphanCount     int
	Errors          []string
}

// RunLog is the append-only audit trail of pipeline runs.
type RunLog interface {
	Append(ctx context.Context, rec RunRecord) error

	// List returns the most recent records first, at most limit of them.
	List(ctx context.Context, limit int) ([]RunRecord, error)
}
