package batch

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name     string
		snapshot Snapshot
		wantErr  error
		wantKeys []dimension.NaturalKey
	}{
		{
			name: "valid",
			snapshot: Snapshot{BusinessDate: day, Rows: []SnapshotRow{
				{NaturalKey: "C1"}, {NaturalKey: "C2"},
			}},
		},
		{
			name:     "empty snapshot is valid",
			snapshot: Snapshot{BusinessDate: day},
		},
		{
			name: "duplicates reported in key order",
			snapshot: Snapshot{BusinessDate: day, Rows: []SnapshotRow{
				{NaturalKey: "C3"}, {NaturalKey: "C1"}, {NaturalKey: "C3"}, {NaturalKey: "C1"}, {NaturalKey: "C2"},
			}},
			wantErr:  ErrDuplicateKey,
			wantKeys: []dimension.NaturalKey{"C1", "C3"},
		},
		{
			name:     "empty natural key",
			snapshot: Snapshot{BusinessDate: day, Rows: []SnapshotRow{{NaturalKey: " "}}},
			wantErr:  ErrInvalidRow,
		},
		{
			name:     "missing business date",
			snapshot: Snapshot{Rows: []SnapshotRow{{NaturalKey: "C1"}}},
			wantErr:  ErrInvalidRow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.snapshot.Validate()
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.wantErr)
			if tc.wantKeys != nil {
				var dup *DuplicateKeyError
				require.True(t, errors.As(err, &dup))
				require.Equal(t, tc.wantKeys, dup.Keys)
			}
		})
	}
}

func TestTransactions_Validate(t *testing.T) {
	good := fact.Transaction{ID: "T1", NaturalKey: "C1", Category: "books", BusinessDate: day, Quantity: decimal.NewFromInt(1)}

	require.NoError(t, Transactions{BusinessDate: day, Rows: []fact.Transaction{good}}.Validate())

	wrongDate := good
	wrongDate.BusinessDate = day.AddDate(0, 0, 1)
	err := Transactions{BusinessDate: day, Rows: []fact.Transaction{good, wrongDate}}.Validate()
	require.ErrorIs(t, err, ErrDateMismatch)

	negative := good
	negative.Quantity = decimal.NewFromInt(-1)
	err = Transactions{BusinessDate: day, Rows: []fact.Transaction{negative}}.Validate()
	require.ErrorIs(t, err, ErrInvalidRow)

	noKey := good
	noKey.NaturalKey = ""
	err = Transactions{BusinessDate: day, Rows: []fact.Transaction{noKey}}.Validate()
	require.ErrorIs(t, err, ErrInvalidRow)
}
