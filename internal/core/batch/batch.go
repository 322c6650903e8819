package batch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
)

var (
	// ErrDuplicateKey marks a snapshot that lists a natural key more than once.
	ErrDuplicateKey = errors.New("duplicate natural key in snapshot")

	// ErrDateMismatch marks a transaction whose business date is not the batch date.
	ErrDateMismatch = errors.New("transaction business date does not match batch")

	// ErrInvalidRow marks a row that cannot be processed at all (empty key, negative quantity).
	ErrInvalidRow = errors.New("invalid batch row")
)

// SnapshotRow is the full attribute state of one entity on the batch date.
type SnapshotRow struct {
	NaturalKey dimension.NaturalKey
	Attributes dimension.Attributes
}

// Snapshot is the complete set of customer rows for one business date.
type Snapshot struct {
	BusinessDate time.Time
	Rows         []SnapshotRow
}

// DuplicateKeyError lists every natural key that appears more than once.
type DuplicateKeyError struct {
	Keys []dimension.NaturalKey
}

func (e *DuplicateKeyError) Error() string {
	keys := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		keys[i] = string(k)
	}
	return fmt.Sprintf("%s: %s", ErrDuplicateKey, strings.Join(keys, ", "))
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// Validate checks the snapshot's integrity before anything is read or written.
func (s Snapshot) Validate() error {
	if s.BusinessDate.IsZero() {
		return fmt.Errorf("%w: missing business date", ErrInvalidRow)
	}
	counts := make(map[dimension.NaturalKey]int, len(s.Rows))
	for i, row := range s.Rows {
		if strings.TrimSpace(string(row.NaturalKey)) == "" {
			return fmt.Errorf("%w: row %d has an empty natural key", ErrInvalidRow, i)
		}
		counts[row.NaturalKey]++
	}
	var dups []dimension.NaturalKey
	for k, n := range counts {
		if n > 1 {
			dups = append(dups, k)
		}
	}
	if len(dups) > 0 {
		sort.Slice(dups, func(i, j int) bool { return dups[i] < dups[j] })
		return &DuplicateKeyError{Keys: dups}
	}
	return nil
}

// Transactions is the set of booking lines for one business date.
type Transactions struct {
	BusinessDate time.Time
	Rows         []fact.Transaction
}

// Validate checks every row belongs to the batch date and carries a usable key.
func (t Transactions) Validate() error {
	if t.BusinessDate.IsZero() {
		return fmt.Errorf("%w: missing business date", ErrInvalidRow)
	}
	day := dimension.Day(t.BusinessDate)
	for i, row := range t.Rows {
		if strings.TrimSpace(string(row.NaturalKey)) == "" {
			return fmt.Errorf("%w: transaction %d has an empty natural key", ErrInvalidRow, i)
		}
		if !dimension.Day(row.BusinessDate).Equal(day) {
			return fmt.Errorf("%w: transaction %q dated %s, batch is %s", ErrDateMismatch,
				row.ID, row.BusinessDate.Format(dimension.DateLayout), day.Format(dimension.DateLayout))
		}
		if row.Quantity.IsNegative() {
			return fmt.Errorf("%w: transaction %q has negative quantity %s", ErrInvalidRow, row.ID, row.Quantity)
		}
	}
	return nil
}
