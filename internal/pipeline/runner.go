package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/aevon-lab/dimledger/internal/aggregation"
	"github.com/aevon-lab/dimledger/internal/core/batch"
	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/quality"
	"github.com/aevon-lab/dimledger/internal/core/storage"
	"github.com/aevon-lab/dimledger/internal/merge"
	"github.com/aevon-lab/dimledger/internal/metrics"
)

// ErrRejected wraps every error that rejected a batch before anything was written:
// a failed quality gate or an input integrity error.
var ErrRejected = errors.New("batch rejected")

// RunResult is the structured outcome of one engine invocation.
type RunResult struct {
	RunID           string                 `json:"run_id"`
	Kind            string                 `json:"kind"`
	BusinessDate    string                 `json:"business_date"`
	Status          string                 `json:"status"`
	RowsRead        int                    `json:"rows_read"`
	VersionsCreated int                    `json:"versions_created"`
	VersionsClosed  int                    `json:"versions_closed"`
	Unchanged       int                    `json:"unchanged"`
	FactRowsWritten int                    `json:"fact_rows_written"`
	OrphanCount     int                    `json:"orphan_count"`
	OrphanKeys      []dimension.NaturalKey `json:"orphan_keys,omitempty"`
	Diagnostics     []quality.Diagnostic   `json:"diagnostics,omitempty"`
	Errors          []string               `json:"errors"`
}

// Summary combines the merge and aggregate runs of one business date.
type Summary struct {
	BusinessDate    string      `json:"business_date"`
	Status          string      `json:"status"`
	VersionsCreated int         `json:"versions_created"`
	VersionsClosed  int         `json:"versions_closed"`
	FactRowsWritten int         `json:"fact_rows_written"`
	OrphanCount     int         `json:"orphan_count"`
	Errors          []string    `json:"errors"`
	Runs            []RunResult `json:"runs"`
}

// Runner sequences gate, engine, run log and metrics for each batch. The engines
// never touch the run log themselves.
type Runner struct {
	gate       *quality.Gate
	merger     *merge.Engine
	aggregator *aggregation.Aggregator
	runs       storage.RunLog
	metrics    *metrics.Recorder
	clock      clockwork.Clock
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock overrides the clock used for run timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(gate *quality.Gate, merger *merge.Engine, aggregator *aggregation.Aggregator, runs storage.RunLog, opts ...Option) *Runner {
	if gate == nil || merger == nil || aggregator == nil || runs == nil {
		panic("pipeline: gate, merge engine, aggregator and run log are required")
	}
	r := &Runner{
		gate:       gate,
		merger:     merger,
		aggregator: aggregator,
		runs:       runs,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunSnapshot gates and merges one customer snapshot.
func (r *Runner) RunSnapshot(ctx context.Context, snap batch.Snapshot) (RunResult, error) {
	started := r.clock.Now().UTC()
	res := r.newResult(storage.RunKindMerge, snap.BusinessDate, len(snap.Rows))

	report := r.gate.CheckSnapshot(snap)
	r.observeReport(&res, report)
	if !report.Passed() {
		err := fmt.Errorf("%w: %w", ErrRejected, report.Err())
		return r.finish(ctx, res, started, err)
	}

	mr, err := r.merger.Merge(ctx, snap)
	res.VersionsCreated = mr.VersionsCreated
	res.VersionsClosed = mr.VersionsClosed
	res.Unchanged = mr.Unchanged
	r.metrics.Merge(mr.VersionsCreated, mr.VersionsClosed, mr.ConflictRetries)
	if err != nil && isIntegrityError(err) {
		err = fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return r.finish(ctx, res, started, err)
}

// RunTransactions gates and aggregates one transactions batch.
func (r *Runner) RunTransactions(ctx context.Context, txns batch.Transactions) (RunResult, error) {
	started := r.clock.Now().UTC()
	res := r.newResult(storage.RunKindAggregate, txns.BusinessDate, len(txns.Rows))

	report := r.gate.CheckTransactions(txns)
	r.observeReport(&res, report)
	if !report.Passed() {
		err := fmt.Errorf("%w: %w", ErrRejected, report.Err())
		return r.finish(ctx, res, started, err)
	}

	ar, err := r.aggregator.Aggregate(ctx, txns)
	res.FactRowsWritten = ar.FactRowsWritten
	res.OrphanCount = ar.OrphanCount
	res.OrphanKeys = ar.OrphanKeys
	if err == nil {
		r.metrics.Aggregate(ar.FactRowsWritten, ar.OrphanCount)
		if ar.OrphanCount > 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("%d orphan transactions excluded", ar.OrphanCount))
		}
	}
	if err != nil && isIntegrityError(err) {
		err = fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return r.finish(ctx, res, started, err)
}

// Run merges the snapshot and then aggregates the transactions of the same date.
// Aggregation is skipped when the merge did not succeed.
func (r *Runner) Run(ctx context.Context, snap batch.Snapshot, txns batch.Transactions) (Summary, error) {
	sum := Summary{BusinessDate: dimension.Day(snap.BusinessDate).Format(dimension.DateLayout)}

	if !dimension.Day(snap.BusinessDate).Equal(dimension.Day(txns.BusinessDate)) {
		err := fmt.Errorf("%w: %w: snapshot is %s, transactions are %s", ErrRejected, batch.ErrDateMismatch,
			sum.BusinessDate, dimension.Day(txns.BusinessDate).Format(dimension.DateLayout))
		sum.Status = storage.RunStatusRejected
		sum.Errors = []string{err.Error()}
		return sum, err
	}

	mr, err := r.RunSnapshot(ctx, snap)
	sum.add(mr)
	if err != nil {
		return sum, err
	}

	ar, err := r.RunTransactions(ctx, txns)
	sum.add(ar)
	return sum, err
}

func (s *Summary) add(res RunResult) {
	s.Runs = append(s.Runs, res)
	s.VersionsCreated += res.VersionsCreated
	s.VersionsClosed += res.VersionsClosed
	s.FactRowsWritten += res.FactRowsWritten
	s.OrphanCount += res.OrphanCount
	s.Errors = append(s.Errors, res.Errors...)
	if s.Status == "" || s.Status == storage.RunStatusSuccess {
		s.Status = res.Status
	}
}

func (r *Runner) newResult(kind string, date time.Time, rows int) RunResult {
	return RunResult{
		RunID:        uuid.NewString(),
		Kind:         kind,
		BusinessDate: dimension.Day(date).Format(dimension.DateLayout),
		RowsRead:     rows,
		Errors:       []string{},
	}
}

func (r *Runner) observeReport(res *RunResult, report quality.Report) {
	res.Diagnostics = report.Diagnostics
	for _, d := range report.Diagnostics {
		r.metrics.Diagnostic(d.Rule, d.Severity, d.Count)
	}
	if !report.Passed() {
		res.Errors = append(res.Errors, report.Messages()...)
	}
}

// finish sets the status, appends the run record and records metrics. The record
// is written even when ctx was cancelled so aborted runs stay visible.
func (r *Runner) finish(ctx context.Context, res RunResult, started time.Time, runErr error) (RunResult, error) {
	switch {
	case runErr == nil:
		res.Status = storage.RunStatusSuccess
	case errors.Is(runErr, ErrRejected):
		res.Status = storage.RunStatusRejected
	default:
		res.Status = storage.RunStatusFailed
	}
	if runErr != nil && !errors.Is(runErr, quality.ErrGateFailed) {
		res.Errors = append(res.Errors, runErr.Error())
	}

	finished := r.clock.Now().UTC()
	date, _ := dimension.ParseDate(res.BusinessDate)
	rec := storage.RunRecord{
		RunID:           res.RunID,
		Kind:            res.Kind,
		BusinessDate:    date,
		Status:          res.Status,
		StartedAt:       started,
		FinishedAt:      finished,
		RowsRead:        res.RowsRead,
		VersionsCreated: res.VersionsCreated,
		VersionsClosed:  res.VersionsClosed,
		Unchanged:       res.Unchanged,
		FactRowsWritten: res.FactRowsWritten,
		OrphanCount:     res.OrphanCount,
		Errors:          res.Errors,
	}
	if err := r.runs.Append(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("[Pipeline] Failed to append run record", "run_id", res.RunID, "error", err)
		if runErr == nil {
			res.Status = storage.RunStatusFailed
			runErr = fmt.Errorf("append run record: %w", err)
			res.Errors = append(res.Errors, runErr.Error())
		}
	}

	r.metrics.Run(res.Kind, res.Status, finished.Sub(started).Seconds())

	logArgs := []any{
		"run_id", res.RunID,
		"kind", res.Kind,
		"business_date", res.BusinessDate,
		"status", res.Status,
		"duration", finished.Sub(started),
	}
	if runErr != nil {
		slog.Warn("[Pipeline] Run did not succeed", append(logArgs, "error", runErr)...)
	} else {
		slog.Info("[Pipeline] Run complete", logArgs...)
	}
	return res, runErr
}

// isIntegrityError reports input integrity errors that reject a batch unwritten.
func isIntegrityError(err error) bool {
	return errors.Is(err, batch.ErrDuplicateKey) ||
		errors.Is(err, batch.ErrInvalidRow) ||
		errors.Is(err, batch.ErrDateMismatch) ||
		errors.Is(err, dimension.ErrOutOfOrder)
}
