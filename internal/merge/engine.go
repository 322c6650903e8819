package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aevon-lab/dimledger/internal/core/batch"
	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/partition"
	"github.com/aevon-lab/dimledger/internal/core/storage"
)

const (
	defaultWorkerCount        = 8
	defaultMaxConflictRetries = 3
)

// Options controls apply parallelism and optimistic retry. Zero fields take
// the package defaults.
type Options struct {
	WorkerCount        int
	MaxConflictRetries int
}

func (o Options) normalized() Options {
	n := o
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.MaxConflictRetries <= 0 {
		n.MaxConflictRetries = defaultMaxConflictRetries
	}
	return n
}

// Result summarizes one merge. On a partial failure it counts what was applied.
type Result struct {
	BusinessDate    time.Time `json:"business_date"`
	RowsRead        int       `json:"rows_read"`
	VersionsCreated int       `json:"versions_created"`
	VersionsClosed  int       `json:"versions_closed"`
	Unchanged       int       `json:"unchanged"`
	ConflictRetries int       `json:"conflict_retries"`
}

type action int

const (
	actionUnchanged action = iota
	actionInsert
	actionChange
)

func (a action) String() string {
	switch a {
	case actionInsert:
		return "insert"
	case actionChange:
		return "change"
	}
	return "unchanged"
}

type plannedRow struct {
	row     batch.SnapshotRow
	current *dimension.Version
	action  action
}

// Engine applies daily snapshots to the versioned dimension.
type Engine struct {
	store    storage.DimensionStore
	keys     dimension.KeyAllocator
	detector *dimension.Detector
	opts     Options
}

// NewEngine creates a merge engine. keys is usually store.Allocator().
func NewEngine(store storage.DimensionStore, keys dimension.KeyAllocator, detector *dimension.Detector, opts Options) *Engine {
	if store == nil || keys == nil || detector == nil {
		panic("merge: store, key allocator and detector are required")
	}
	return &Engine{
		store:    store,
		keys:     keys,
		detector: detector,
		opts:     opts.normalized(),
	}
}

// Merge applies one snapshot. Integrity problems (duplicate keys, out-of-order dates)
// reject the whole batch before anything is written. A consistency violation halts.
// On cancellation each key is either fully transitioned or untouched, and the
// returned error is ctx.Err().
func (e *Engine) Merge(ctx context.Context, snap batch.Snapshot) (Result, error) {
	day := dimension.Day(snap.BusinessDate)
	res := Result{BusinessDate: day, RowsRead: len(snap.Rows)}

	if err := snap.Validate(); err != nil {
		return res, fmt.Errorf("merge %s: %w", day.Format(dimension.DateLayout), err)
	}

	slog.Info("[MergeEngine] Starting merge",
		"business_date", day.Format(dimension.DateLayout),
		"rows", len(snap.Rows),
		"workers", e.opts.WorkerCount)

	plan, err := e.plan(ctx, day, snap.Rows)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, fmt.Errorf("merge %s: %w", day.Format(dimension.DateLayout), err)
	}

	var pending []plannedRow
	for _, p := range plan {
		if p.action == actionUnchanged {
			res.Unchanged++
			continue
		}
		pending = append(pending, p)
	}

	counts, err := e.apply(ctx, day, pending)
	res.VersionsCreated = int(counts.created.Load())
	res.VersionsClosed = int(counts.closed.Load())
	res.Unchanged += int(counts.unchanged.Load())
	res.ConflictRetries = int(counts.retries.Load())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			slog.Warn("[MergeEngine] Merge cancelled",
				"business_date", day.Format(dimension.DateLayout),
				"versions_created", res.VersionsCreated)
			return res, ctxErr
		}
		return res, fmt.Errorf("merge %s: %w", day.Format(dimension.DateLayout), err)
	}

	slog.Info("[MergeEngine] Merge complete",
		"business_date", day.Format(dimension.DateLayout),
		"versions_created", res.VersionsCreated,
		"versions_closed", res.VersionsClosed,
		"unchanged", res.Unchanged,
		"conflict_retries", res.ConflictRetries)
	return res, nil
}

// plan reads every key's current version and classifies the row. It never writes.
func (e *Engine) plan(ctx context.Context, day time.Time, rows []batch.SnapshotRow) ([]plannedRow, error) {
	plan := make([]plannedRow, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.WorkerCount)
	for i := range rows {
		g.Go(func() error {
			cur, err := e.store.GetCurrent(gctx, rows[i].NaturalKey)
			if err != nil {
				return fmt.Errorf("read current %s: %w", rows[i].NaturalKey, err)
			}
			plan[i] = plannedRow{row: rows[i], current: cur, action: e.classify(cur, rows[i].Attributes)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var outOfOrder []error
	for _, p := range plan {
		if p.action == actionChange && !day.After(p.current.ValidFrom) {
			outOfOrder = append(outOfOrder, &dimension.OutOfOrderError{
				NaturalKey:       p.row.NaturalKey,
				BusinessDate:     day,
				CurrentValidFrom: p.current.ValidFrom,
			})
		}
	}
	if len(outOfOrder) > 0 {
		sort.Slice(outOfOrder, func(i, j int) bool { return outOfOrder[i].Error() < outOfOrder[j].Error() })
		return nil, fmt.Errorf("batch rejected, %d out-of-order key(s): %w", len(outOfOrder), errors.Join(outOfOrder...))
	}
	return plan, nil
}

func (e *Engine) classify(cur *dimension.Version, incoming dimension.Attributes) action {
	switch {
	case cur == nil:
		return actionInsert
	case e.detector.HasChanged(*cur, incoming):
		return actionChange
	default:
		return actionUnchanged
	}
}

type applyCounts struct {
	created   atomic.Int64
	closed    atomic.Int64
	unchanged atomic.Int64
	retries   atomic.Int64
}

// apply shards pending rows by natural key so one key is only ever written by one worker.
func (e *Engine) apply(ctx context.Context, day time.Time, pending []plannedRow) (*applyCounts, error) {
	counts := &applyCounts{}
	if len(pending) == 0 {
		return counts, nil
	}

	workers := e.opts.WorkerCount
	if workers > len(pending) {
		workers = len(pending)
	}
	shards := make([][]plannedRow, workers)
	for _, p := range pending {
		s := partition.Shard(string(p.row.NaturalKey), workers)
		shards[s] = append(shards[s], p)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		g.Go(func() error {
			for _, p := range shard {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.applyRow(gctx, day, p, counts); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return counts, g.Wait()
}

// applyRow performs one key transition, re-reading and re-planning on conflict.
func (e *Engine) applyRow(ctx context.Context, day time.Time, p plannedRow, counts *applyCounts) error {
	key := p.row.NaturalKey
	for attempt := 0; ; attempt++ {
		sk, err := e.keys.Next(ctx)
		if err != nil {
			return fmt.Errorf("allocate key for %s: %w", key, err)
		}

		v := dimension.NewVersion(key, p.row.Attributes, day)
		v.SurrogateKey = sk

		var oldSK dimension.SurrogateKey
		if p.current != nil {
			oldSK = p.current.SurrogateKey
		}

		if _, err = e.store.CloseAndInsert(ctx, oldSK, v); err == nil {
			counts.created.Add(1)
			if p.action == actionChange {
				counts.closed.Add(1)
				slog.Debug("[MergeEngine] Version changed",
					"natural_key", key,
					"closed_sk", oldSK,
					"surrogate_key", sk,
					"changed", e.detector.Diff(*p.current, p.row.Attributes))
			}
			return nil
		}

		if !errors.Is(err, dimension.ErrConflict) {
			return fmt.Errorf("%s %s: %w", p.action, key, err)
		}
		if attempt >= e.opts.MaxConflictRetries {
			return fmt.Errorf("%s %s: gave up after %d retries: %w", p.action, key, attempt, err)
		}
		counts.retries.Add(1)

		slog.Warn("[MergeEngine] Conflict, re-reading current version",
			"natural_key", key,
			"attempt", attempt+1)

		cur, err := e.store.GetCurrent(ctx, key)
		if err != nil {
			return fmt.Errorf("re-read %s: %w", key, err)
		}
		p.current = cur
		p.action = e.classify(cur, p.row.Attributes)
		switch {
		case p.action == actionUnchanged:
			counts.unchanged.Add(1)
			return nil
		case p.action == actionChange && !day.After(cur.ValidFrom):
			return &dimension.OutOfOrderError{NaturalKey: key, BusinessDate: day, CurrentValidFrom: cur.ValidFrom}
		}
	}
}
