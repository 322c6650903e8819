package fact

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Measure names as stored in fact_booking_daily.
const (
	MeasureNetAmount        = "net_amount"
	MeasureQuantity         = "quantity"
	MeasureTransactionCount = "transaction_count"
)

// Measure binds a column to an operator and the transaction value it folds.
type Measure struct {
	Name  string
	Op    string
	Value func(Transaction) decimal.Decimal
}

// BookingMeasures are the measures of the daily booking fact.
var BookingMeasures = []Measure{
	{Name: MeasureNetAmount, Op: OpSum, Value: Transaction.Net},
	{Name: MeasureQuantity, Op: OpSum, Value: func(t Transaction) decimal.Decimal { return t.Quantity }},
	{Name: MeasureTransactionCount, Op: OpCount, Value: func(Transaction) decimal.Decimal { return decimal.Zero }},
}

// Accumulator folds transactions into per-measure aggregates for one fact key.
type Accumulator struct {
	measures []Measure
	ops      []Operator
	values   []decimal.Decimal
}

// NewAccumulator resolves every measure operator up front.
func NewAccumulator(measures []Measure) (*Accumulator, error) {
	ops := make([]Operator, len(measures))
	for i, m := range measures {
		fn, ok := LookupOperator(m.Op)
		if !ok {
			return nil, fmt.Errorf("measure %q: unknown operator %q", m.Name, m.Op)
		}
		ops[i] = fn
	}
	return &Accumulator{
		measures: measures,
		ops:      ops,
		values:   make([]decimal.Decimal, len(measures)),
	}, nil
}

// Add folds one transaction.
func (a *Accumulator) Add(t Transaction) {
	for i, m := range a.measures {
		a.values[i] = a.ops[i](a.values[i], m.Value(t))
	}
}

// Value returns the aggregate of the named measure, zero if nothing was added.
func (a *Accumulator) Value(name string) decimal.Decimal {
	for i, m := range a.measures {
		if m.Name == name {
			return a.values[i]
		}
	}
	return decimal.Zero
}
