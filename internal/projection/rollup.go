package projection

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/dimledger/internal/core/fact"
)

// rollupByCategory sums the partition per category, ordered by category.
func rollupByCategory(rows []fact.Row) []CategoryTotal {
	byCategory := make(map[string]*CategoryTotal)
	for _, r := range rows {
		t, ok := byCategory[r.Category]
		if !ok {
			t = &CategoryTotal{Category: r.Category, NetAmount: decimal.Zero, Quantity: decimal.Zero}
			byCategory[r.Category] = t
		}
		add(t, r)
	}

	out := make([]CategoryTotal, 0, len(byCategory))
	for _, t := range byCategory {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// rollupTotal sums the whole partition. Customers counts distinct natural keys.
func rollupTotal(rows []fact.Row) CategoryTotal {
	total := CategoryTotal{NetAmount: decimal.Zero, Quantity: decimal.Zero}
	customers := make(map[string]struct{})
	for _, r := range rows {
		total.NetAmount = total.NetAmount.Add(r.NetAmount)
		total.Quantity = total.Quantity.Add(r.Quantity)
		total.TransactionCount += r.TransactionCount
		customers[string(r.NaturalKey)] = struct{}{}
	}
	total.Customers = len(customers)
	return total
}

func add(t *CategoryTotal, r fact.Row) {
	t.Customers++ // one row per customer within a category
	t.NetAmount = t.NetAmount.Add(r.NetAmount)
	t.Quantity = t.Quantity.Add(r.Quantity)
	t.TransactionCount += r.TransactionCount
}
