package fact

import (
	"github.com/shopspring/decimal"
)

// Measure operators.
const (
	OpCount = "count"
	OpSum   = "sum"
)

// Operator folds one transaction value into a running aggregate. Every
// aggregate starts from zero, which is also the value of an empty fact row.
type Operator func(acc, v decimal.Decimal) decimal.Decimal

var one = decimal.NewFromInt(1)

var operators = map[string]Operator{
	OpCount: func(acc, _ decimal.Decimal) decimal.Decimal { return acc.Add(one) },
	OpSum:   func(acc, v decimal.Decimal) decimal.Decimal { return acc.Add(v) },
}

// LookupOperator returns the operator registered under op.
func LookupOperator(op string) (Operator, bool) {
	fn, ok := operators[op]
	return fn, ok
}
