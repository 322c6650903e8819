package dimension

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict is returned by CloseAndInsert when the key's current version is
	// not the one the caller read. Nothing was written; re-read and retry.
	ErrConflict = errors.New("current version changed concurrently")

	// ErrOutOfOrder is returned when a new version would start on or before the
	// current version's valid_from.
	ErrOutOfOrder = errors.New("business date is not after current valid_from")

	// ErrConsistency marks a broken dimension: more than one current version or
	// overlapping windows for one natural key. Never repaired automatically.
	ErrConsistency = errors.New("dimension consistency violation")
)

// ConsistencyError reports which key is corrupt.
type ConsistencyError struct {
	NaturalKey NaturalKey
	Reason     string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("natural key %q: %s: %s", e.NaturalKey, ErrConsistency, e.Reason)
}

func (e *ConsistencyError) Unwrap() error {
	return ErrConsistency
}

// OutOfOrderError carries the offending key and dates.
type OutOfOrderError struct {
	NaturalKey       NaturalKey
	BusinessDate     time.Time
	CurrentValidFrom time.Time
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("natural key %q: business date %s <= current valid_from %s",
		e.NaturalKey,
		e.BusinessDate.Format(DateLayout),
		e.CurrentValidFrom.Format(DateLayout))
}

func (e *OutOfOrderError) Unwrap() error {
	return ErrOutOfOrder
}
