package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aevon-lab/dimledger/internal/core/batch"
	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
	"github.com/aevon-lab/dimledger/internal/core/storage"
)

const defaultWorkerCount = 8

// Parameter controls the fan-out of surrogate key resolution.
type Parameter struct {
	WorkerCount int
	Measures    []fact.Measure
}

func (p Parameter) normalized() Parameter {
	n := p
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if len(n.Measures) == 0 {
		n.Measures = fact.BookingMeasures
	}
	return n
}

// Result summarizes one aggregation run.
type Result struct {
	BusinessDate     time.Time              `json:"business_date"`
	TransactionsRead int                    `json:"transactions_read"`
	FactRowsWritten  int                    `json:"fact_rows_written"`
	OrphanCount      int                    `json:"orphan_count"`
	OrphanKeys       []dimension.NaturalKey `json:"orphan_keys,omitempty"`
}

// Aggregator derives the daily booking fact partition from a transactions batch.
type Aggregator struct {
	dims   storage.DimensionStore
	facts  storage.FactStore
	params Parameter
}

// NewAggregator creates an aggregator. Unknown measure operators are a startup error.
func NewAggregator(dims storage.DimensionStore, facts storage.FactStore, params Parameter) (*Aggregator, error) {
	if dims == nil || facts == nil {
		return nil, fmt.Errorf("aggregation: dimension and fact stores are required")
	}
	params = params.normalized()
	if _, err := fact.NewAccumulator(params.Measures); err != nil {
		return nil, fmt.Errorf("aggregation: %w", err)
	}
	return &Aggregator{dims: dims, facts: facts, params: params}, nil
}

// Aggregate resolves each transaction to the customer version valid on its business
// date, folds measures per (category, customer) and replaces the date's partition.
// Transactions of unknown customers are excluded and counted, never fatal.
// Re-running the same batch replaces the partition with identical rows.
func (a *Aggregator) Aggregate(ctx context.Context, txns batch.Transactions) (Result, error) {
	day := dimension.Day(txns.BusinessDate)
	label := day.Format(dimension.DateLayout)
	res := Result{BusinessDate: day, TransactionsRead: len(txns.Rows)}

	if err := txns.Validate(); err != nil {
		return res, fmt.Errorf("aggregate %s: %w", label, err)
	}

	slog.Info("[FactAggregator] Starting aggregation",
		"business_date", label,
		"transactions", len(txns.Rows),
		"workers", a.params.WorkerCount)

	groups := make(map[dimension.NaturalKey][]fact.Transaction)
	for _, t := range txns.Rows {
		groups[t.NaturalKey] = append(groups[t.NaturalKey], t)
	}

	rows, orphans, err := a.buildRowsConcurrently(ctx, day, groups)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, fmt.Errorf("aggregate %s: %w", label, err)
	}

	for _, key := range orphans {
		res.OrphanCount += len(groups[key])
	}
	res.OrphanKeys = orphans
	if res.OrphanCount > 0 {
		slog.Warn("[FactAggregator] Excluded orphan transactions",
			"business_date", label,
			"orphan_count", res.OrphanCount,
			"orphan_keys", len(orphans))
	}

	fact.SortRows(rows)
	if err := a.facts.ReplacePartition(ctx, day, rows); err != nil {
		return res, fmt.Errorf("aggregate %s: replace partition: %w", label, err)
	}
	res.FactRowsWritten = len(rows)

	slog.Info("[FactAggregator] Aggregation complete",
		"business_date", label,
		"fact_rows_written", res.FactRowsWritten,
		"orphan_count", res.OrphanCount)
	return res, nil
}

type groupResult struct {
	rows    []fact.Row
	orphans []dimension.NaturalKey
	err     error
}

// buildRowsConcurrently fans customer groups out to workers. Each group resolves its
// surrogate key once and folds its own transactions, so workers never share a fact key.
func (a *Aggregator) buildRowsConcurrently(
	ctx context.Context,
	day time.Time,
	groups map[dimension.NaturalKey][]fact.Transaction,
) ([]fact.Row, []dimension.NaturalKey, error) {
	workerCount := minInt(a.params.WorkerCount, len(groups))
	if workerCount <= 0 {
		return nil, nil, nil
	}

	jobs := make(chan dimension.NaturalKey, len(groups))
	results := make(chan groupResult, workerCount)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			var local groupResult
			for key := range jobs {
				if local.err != nil {
					continue // drain
				}
				if err := ctx.Err(); err != nil {
					local.err = err
					continue
				}
				v, err := a.dims.GetAsOf(ctx, key, day)
				if err != nil {
					local.err = fmt.Errorf("resolve %s as of %s: %w", key, day.Format(dimension.DateLayout), err)
					continue
				}
				if v == nil {
					local.orphans = append(local.orphans, key)
					continue
				}
				rows, err := a.fold(v.SurrogateKey, groups[key])
				if err != nil {
					local.err = err
					continue
				}
				local.rows = append(local.rows, rows...)
			}
			results <- local
		}()
	}

	for key := range groups {
		jobs <- key
	}
	close(jobs)

	wg.Wait()
	close(results)

	var (
		rows    []fact.Row
		orphans []dimension.NaturalKey
	)
	for r := range results {
		if r.err != nil {
			return nil, nil, r.err
		}
		rows = append(rows, r.rows...)
		orphans = append(orphans, r.orphans...)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	return rows, orphans, nil
}

// fold aggregates one customer's transactions per category.
func (a *Aggregator) fold(sk dimension.SurrogateKey, txns []fact.Transaction) ([]fact.Row, error) {
	accs := make(map[fact.Key]*fact.Accumulator)
	var order []fact.Key
	for _, t := range txns {
		key := fact.Key{Category: t.Category, NaturalKey: t.NaturalKey, BusinessDate: dimension.Day(t.BusinessDate)}
		acc, ok := accs[key]
		if !ok {
			var err error
			if acc, err = fact.NewAccumulator(a.params.Measures); err != nil {
				return nil, err
			}
			accs[key] = acc
			order = append(order, key)
		}
		acc.Add(t)
	}

	rows := make([]fact.Row, 0, len(order))
	for _, key := range order {
		acc := accs[key]
		rows = append(rows, fact.Row{
			Key:              key,
			SurrogateKey:     sk,
			NetAmount:        acc.Value(fact.MeasureNetAmount),
			Quantity:         acc.Value(fact.MeasureQuantity),
			TransactionCount: acc.Value(fact.MeasureTransactionCount).IntPart(),
		})
	}
	return rows, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
