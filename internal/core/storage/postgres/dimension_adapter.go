package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
)

// Sequence allocates surrogate keys from the dim_customer_sk_seq database sequence.
// nextval is not transactional: a key taken by a rolled-back write is never reused.
type Sequence struct {
	db *sql.DB
}

// NewSequence creates a sequence-backed allocator.
func NewSequence(db *sql.DB) *Sequence {
	return &Sequence{db: db}
}

func (s *Sequence) Next(ctx context.Context) (dimension.SurrogateKey, error) {
	var sk int64
	if err := s.db.QueryRowContext(ctx, queryNextSurrogateKey).Scan(&sk); err != nil {
		return 0, fmt.Errorf("allocate surrogate key: %w", err)
	}
	return dimension.SurrogateKey(sk), nil
}

// DimensionAdapter implements storage.DimensionStore over the dim_customer table.
// Close and insert run in one transaction holding a row lock on the current version;
// the partial unique index on (natural_key) WHERE is_current backs the invariant.
type DimensionAdapter struct {
	db      *sql.DB
	seq     dimension.KeyAllocator
	current *sql.Stmt
	asOf    *sql.Stmt
	history *sql.Stmt
}

// NewDimensionAdapter prepares the read statements on the shared connection.
func NewDimensionAdapter(db *sql.DB) (*DimensionAdapter, error) {
	current, err := db.Prepare(queryCurrentVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare currentVersion statement: %w", err)
	}

	asOf, err := db.Prepare(queryVersionAsOf)
	if err != nil {
		current.Close()
		return nil, fmt.Errorf("failed to prepare versionAsOf statement: %w", err)
	}

	history, err := db.Prepare(queryVersionHistory)
	if err != nil {
		current.Close()
		asOf.Close()
		return nil, fmt.Errorf("failed to prepare versionHistory statement: %w", err)
	}

	return &DimensionAdapter{
		db:      db,
		seq:     NewSequence(db),
		current: current,
		asOf:    asOf,
		history: history,
	}, nil
}

func (a *DimensionAdapter) Allocator() dimension.KeyAllocator {
	return a.seq
}

func (a *DimensionAdapter) GetCurrent(ctx context.Context, key dimension.NaturalKey) (*dimension.Version, error) {
	rows, err := a.current.QueryContext(ctx, string(key))
	if err != nil {
		return nil, fmt.Errorf("get current %s: %w", key, err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return nil, fmt.Errorf("get current %s: %w", key, err)
	}
	return single(key, versions, "more than one current version")
}

func (a *DimensionAdapter) GetAsOf(ctx context.Context, key dimension.NaturalKey, date time.Time) (*dimension.Version, error) {
	day := dimension.Day(date)
	rows, err := a.asOf.QueryContext(ctx, string(key), day)
	if err != nil {
		return nil, fmt.Errorf("get %s as of %s: %w", key, day.Format(dimension.DateLayout), err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return nil, fmt.Errorf("get %s as of %s: %w", key, day.Format(dimension.DateLayout), err)
	}
	return single(key, versions, "overlapping versions cover "+day.Format(dimension.DateLayout))
}

func (a *DimensionAdapter) History(ctx context.Context, key dimension.NaturalKey) ([]dimension.Version, error) {
	rows, err := a.history.QueryContext(ctx, string(key))
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}
	versions, err := collectVersions(rows)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}
	return versions, nil
}

func (a *DimensionAdapter) CloseAndInsert(ctx context.Context, oldSK dimension.SurrogateKey, v dimension.Version) (dimension.SurrogateKey, error) {
	validFrom := dimension.Day(v.ValidFrom)

	attrsJSON, err := marshalAttributes(v.Attributes)
	if err != nil {
		return 0, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("close_and_insert: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, queryCurrentVersionForUpdate, string(v.NaturalKey))
	if err != nil {
		return 0, fmt.Errorf("close_and_insert: lock current %s: %w", v.NaturalKey, err)
	}
	locked, err := collectVersions(rows)
	if err != nil {
		return 0, fmt.Errorf("close_and_insert: lock current %s: %w", v.NaturalKey, err)
	}
	cur, err := single(v.NaturalKey, locked, "more than one current version")
	if err != nil {
		return 0, err
	}

	switch {
	case oldSK == 0 && cur != nil:
		return 0, fmt.Errorf("close_and_insert: %s already has current version %d: %w", v.NaturalKey, cur.SurrogateKey, dimension.ErrConflict)
	case oldSK != 0 && cur == nil:
		return 0, fmt.Errorf("close_and_insert: close %d: no current version: %w", oldSK, dimension.ErrConflict)
	case oldSK != 0 && cur.SurrogateKey != oldSK:
		return 0, fmt.Errorf("close_and_insert: close %d: current version is %d: %w", oldSK, cur.SurrogateKey, dimension.ErrConflict)
	case cur != nil && !validFrom.After(cur.ValidFrom):
		return 0, &dimension.OutOfOrderError{
			NaturalKey:       v.NaturalKey,
			BusinessDate:     validFrom,
			CurrentValidFrom: cur.ValidFrom,
		}
	}

	sk := v.SurrogateKey
	if sk == 0 {
		if sk, err = a.seq.Next(ctx); err != nil {
			return 0, fmt.Errorf("close_and_insert: %w", err)
		}
	}

	if cur != nil {
		result, err := tx.ExecContext(ctx, queryCloseVersion, dimension.PrevDay(validFrom), int64(cur.SurrogateKey))
		if err != nil {
			return 0, fmt.Errorf("close_and_insert: close version %d: %w", cur.SurrogateKey, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("close_and_insert: check close of version %d: %w", cur.SurrogateKey, err)
		}
		if affected != 1 {
			return 0, fmt.Errorf("close_and_insert: version %d was not open: %w", cur.SurrogateKey, dimension.ErrConflict)
		}
	}

	if _, err := tx.ExecContext(ctx, queryInsertVersion,
		int64(sk),
		string(v.NaturalKey),
		attrsJSON,
		validFrom,
		dimension.OpenValidTo,
	); err != nil {
		if isUniqueViolation(err) {
			// A concurrent writer inserted the first version of this key.
			return 0, fmt.Errorf("close_and_insert: insert %s: %w", v.NaturalKey, dimension.ErrConflict)
		}
		return 0, fmt.Errorf("close_and_insert: insert %s: %w", v.NaturalKey, err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("close_and_insert: commit %s: %w", v.NaturalKey, dimension.ErrConflict)
		}
		return 0, fmt.Errorf("close_and_insert: commit: %w", err)
	}

	slog.Debug("[Postgres] Version written",
		"natural_key", v.NaturalKey,
		"closed_sk", oldSK,
		"surrogate_key", sk,
		"valid_from", validFrom.Format(dimension.DateLayout))
	return sk, nil
}

// Close releases the prepared statements. The shared pool is closed by Adapter.
func (a *DimensionAdapter) Close() error {
	var firstErr error
	for _, stmt := range []*sql.Stmt{a.current, a.asOf, a.history} {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close dimension statement: %w", err)
		}
	}
	return firstErr
}

func collectVersions(rows *sql.Rows) ([]dimension.Version, error) {
	defer rows.Close()

	var versions []dimension.Version
	for rows.Next() {
		v, err := scanVersionRow(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

func single(key dimension.NaturalKey, versions []dimension.Version, reason string) (*dimension.Version, error) {
	switch len(versions) {
	case 0:
		return nil, nil
	case 1:
		return &versions[0], nil
	default:
		return nil, &dimension.ConsistencyError{NaturalKey: key, Reason: reason}
	}
}
