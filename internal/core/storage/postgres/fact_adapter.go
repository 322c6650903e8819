package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
)

// FactAdapter implements storage.FactStore over fact_booking_daily.
// A partition replace is one transaction: advisory lock on the date, delete, insert.
type FactAdapter struct {
	db *sql.DB
}

// NewFactAdapter creates a FactAdapter sharing the given connection.
func NewFactAdapter(db *sql.DB) *FactAdapter {
	return &FactAdapter{db: db}
}

func (a *FactAdapter) ReplacePartition(ctx context.Context, date time.Time, rows []fact.Row) error {
	day := dimension.Day(date)
	label := day.Format(dimension.DateLayout)

	sorted := make([]fact.Row, len(rows))
	copy(sorted, rows)
	fact.SortRows(sorted)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace_partition %s: begin tx: %w", label, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, queryLockFactPartition, label); err != nil {
		return fmt.Errorf("replace_partition %s: lock: %w", label, err)
	}

	deleted, err := tx.ExecContext(ctx, queryDeleteFactPartition, day)
	if err != nil {
		return fmt.Errorf("replace_partition %s: delete: %w", label, err)
	}

	insertStmt, err := tx.PrepareContext(ctx, queryInsertFactRow)
	if err != nil {
		return fmt.Errorf("replace_partition %s: prepare insert: %w", label, err)
	}
	defer insertStmt.Close()

	for _, row := range sorted {
		if !dimension.Day(row.BusinessDate).Equal(day) {
			return fmt.Errorf("replace_partition %s: row %s/%s dated %s",
				label, row.Category, row.NaturalKey, row.BusinessDate.Format(dimension.DateLayout))
		}
		if _, err := insertStmt.ExecContext(ctx,
			day,
			row.Category,
			string(row.NaturalKey),
			int64(row.SurrogateKey),
			row.NetAmount,
			row.Quantity,
			row.TransactionCount,
		); err != nil {
			return fmt.Errorf("replace_partition %s: insert %s/%s: %w", label, row.Category, row.NaturalKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace_partition %s: commit: %w", label, err)
	}

	removed, _ := deleted.RowsAffected()
	slog.Info("[FactAdapter] Partition replaced",
		"business_date", label,
		"rows_deleted", removed,
		"rows_inserted", len(sorted))
	return nil
}

func (a *FactAdapter) ListPartition(ctx context.Context, date time.Time) ([]fact.Row, error) {
	day := dimension.Day(date)
	rows, err := a.db.QueryContext(ctx, queryListFactPartition, day)
	if err != nil {
		return nil, fmt.Errorf("list partition %s: %w", day.Format(dimension.DateLayout), err)
	}
	defer rows.Close()

	var out []fact.Row
	for rows.Next() {
		var (
			row                 fact.Row
			netAmount, quantity string
		)
		if err := rows.Scan(
			&row.BusinessDate,
			&row.Category,
			&row.NaturalKey,
			&row.SurrogateKey,
			&netAmount,
			&quantity,
			&row.TransactionCount,
		); err != nil {
			return nil, fmt.Errorf("list partition: scan row: %w", err)
		}
		if row.NetAmount, err = decimal.NewFromString(netAmount); err != nil {
			return nil, fmt.Errorf("list partition: parse net_amount %q: %w", netAmount, err)
		}
		if row.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("list partition: parse quantity %q: %w", quantity, err)
		}
		row.BusinessDate = dimension.Day(row.BusinessDate)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list partition: iterate rows: %w", err)
	}
	return out, nil
}
