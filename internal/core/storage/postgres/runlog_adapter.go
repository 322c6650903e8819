package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/storage"
)

const defaultRunListLimit = 50

// RunLogAdapter implements storage.RunLog over the append-only pipeline_runs table.
type RunLogAdapter struct {
	db *sql.DB
}

// NewRunLogAdapter creates a RunLogAdapter sharing the given connection.
func NewRunLogAdapter(db *sql.DB) *RunLogAdapter {
	return &RunLogAdapter{db: db}
}

func (a *RunLogAdapter) Append(ctx context.Context, rec storage.RunRecord) error {
	errs := rec.Errors
	if errs == nil {
		errs = []string{}
	}
	if _, err := a.db.ExecContext(ctx, queryInsertRun,
		rec.RunID,
		rec.Kind,
		dimension.Day(rec.BusinessDate),
		rec.Status,
		rec.StartedAt,
		rec.FinishedAt,
		rec.RowsRead,
		rec.VersionsCreated,
		rec.VersionsClosed,
		rec.Unchanged,
		rec.FactRowsWritten,
		rec.OrphanCount,
		pq.Array(errs),
	); err != nil {
		return fmt.Errorf("append run %s: %w", rec.RunID, err)
	}
	return nil
}

func (a *RunLogAdapter) List(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	rows, err := a.db.QueryContext(ctx, queryListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []storage.RunRecord
	for rows.Next() {
		var rec storage.RunRecord
		if err := rows.Scan(
			&rec.RunID,
			&rec.Kind,
			&rec.BusinessDate,
			&rec.Status,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.RowsRead,
			&rec.VersionsCreated,
			&rec.VersionsClosed,
			&rec.Unchanged,
			&rec.FactRowsWritten,
			&rec.OrphanCount,
			pq.Array(&rec.Errors),
		); err != nil {
			return nil, fmt.Errorf("list runs: scan row: %w", err)
		}
		rec.BusinessDate = dimension.Day(rec.BusinessDate)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: iterate rows: %w", err)
	}
	return out, nil
}
