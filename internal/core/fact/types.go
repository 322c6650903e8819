package fact

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
)

// Transaction is one booking line of a daily transactions batch.
type Transaction struct {
	ID           string
	NaturalKey   dimension.NaturalKey
	Category     string
	BusinessDate time.Time
	Amount       decimal.Decimal
	Discount     decimal.Decimal
	Quantity     decimal.Decimal
}

// Net is amount minus discount.
func (t Transaction) Net() decimal.Decimal {
	return t.Amount.Sub(t.Discount)
}

// Key identifies one aggregated fact row (the grain of fact_booking_daily).
type Key struct {
	Category     string
	NaturalKey   dimension.NaturalKey
	BusinessDate time.Time
}

// Row is one aggregated fact row. SurrogateKey is the customer version that was
// valid on BusinessDate, not necessarily the current one.
type Row struct {
	Key
	SurrogateKey     dimension.SurrogateKey
	NetAmount        decimal.Decimal
	Quantity         decimal.Decimal
	TransactionCount int64
}

// SortRows orders rows by (category, natural_key), the canonical partition order.
func SortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Category != rows[j].Category {
			return rows[i].Category < rows[j].Category
		}
		return rows[i].NaturalKey < rows[j].NaturalKey
	})
}
