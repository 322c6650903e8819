package merge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aevon-lab/dimledger/internal/core/batch"
	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/storage/memory"
)

var tracked = []string{"name", "address"}

func date(s string) time.Time {
	d, err := dimension.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func row(key, name, address string) batch.SnapshotRow {
	return batch.SnapshotRow{
		NaturalKey: dimension.NaturalKey(key),
		Attributes: dimension.Attributes{"name": dimension.Str(name), "address": dimension.Str(address)},
	}
}

func newMemoryEngine(opts Options) (*Engine, *memory.DimensionStore) {
	store := memory.NewDimensionStore()
	return NewEngine(store, store.Allocator(), dimension.NewDetector(tracked, dimension.Policy{}), opts), store
}

func TestMerge_AddressChangeClosesAndOpens(t *testing.T) {
	ctx := context.Background()
	engine, store := newMemoryEngine(Options{WorkerCount: 4})

	res, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-01-01"), Rows: []batch.SnapshotRow{
		row("C1", "Ada", "A"),
		row("C2", "Bob", "X"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.VersionsCreated)
	assert.Equal(t, 0, res.VersionsClosed)

	res, err = engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{
		row("C1", "Ada", "B"),
		row("C2", "Bob", "X"),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.VersionsCreated)
	assert.Equal(t, 1, res.VersionsClosed)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 2, res.RowsRead)

	history, err := store.History(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, date("2024-01-01"), history[0].ValidFrom)
	assert.Equal(t, date("2024-02-29"), history[0].ValidTo)
	assert.False(t, history[0].IsCurrent)
	assert.Equal(t, "B", *history[1].Attributes["address"])
	assert.True(t, history[1].IsCurrent)
	assert.NotEqual(t, history[0].SurrogateKey, history[1].SurrogateKey)
}

func TestMerge_IdenticalRerunIsNoOp(t *testing.T) {
	ctx := context.Background()
	engine, store := newMemoryEngine(Options{})
	snap := batch.Snapshot{BusinessDate: date("2024-01-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "A"), row("C2", "Bob", "X")}}

	_, err := engine.Merge(ctx, snap)
	require.NoError(t, err)

	res, err := engine.Merge(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 0, res.VersionsCreated)
	assert.Equal(t, 2, res.Unchanged)

	history, err := store.History(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestMerge_UntrackedAttributeChangeIsIgnored(t *testing.T) {
	ctx := context.Background()
	engine, store := newMemoryEngine(Options{})

	first := row("C1", "Ada", "A")
	first.Attributes["segment"] = dimension.Str("retail")
	_, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-01-01"), Rows: []batch.SnapshotRow{first}})
	require.NoError(t, err)

	second := row("C1", "Ada", "A")
	second.Attributes["segment"] = dimension.Str("corporate")
	res, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-02-01"), Rows: []batch.SnapshotRow{second}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)

	cur, err := store.GetCurrent(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "retail", *cur.Attributes["segment"])
}

func TestMerge_DuplicateKeysRejectWholeBatch(t *testing.T) {
	ctx := context.Background()
	engine, store := newMemoryEngine(Options{})

	_, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-01-01"), Rows: []batch.SnapshotRow{
		row("C1", "Ada", "A"),
		row("C2", "Bob", "X"),
		row("C1", "Ada", "B"),
	}})
	require.ErrorIs(t, err, batch.ErrDuplicateKey)

	var dup *batch.DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []dimension.NaturalKey{"C1"}, dup.Keys)

	for _, key := range []dimension.NaturalKey{"C1", "C2"} {
		history, err := store.History(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, history)
	}
}

func TestMerge_OutOfOrderRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	engine, store := newMemoryEngine(Options{})

	_, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "A")}})
	require.NoError(t, err)

	tests := []struct {
		name string
		date string
	}{
		{"earlier date", "2024-02-01"},
		{"same date", "2024-03-01"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date(tc.date), Rows: []batch.SnapshotRow{
				row("C2", "Bob", "X"), // would be a valid insert
				row("C1", "Ada", "B"),
			}})
			require.ErrorIs(t, err, dimension.ErrOutOfOrder)

			var oerr *dimension.OutOfOrderError
			require.True(t, errors.As(err, &oerr))
			assert.Equal(t, dimension.NaturalKey("C1"), oerr.NaturalKey)

			history, err := store.History(ctx, "C2")
			require.NoError(t, err)
			assert.Empty(t, history, "no row of a rejected batch may be written")
		})
	}
}

func TestMerge_ConsistencyViolationHalts(t *testing.T) {
	ctx := context.Background()
	engine, store := newMemoryEngine(Options{})
	store.Load(
		dimension.Version{SurrogateKey: 1, NaturalKey: "C1", ValidFrom: date("2024-01-01"), ValidTo: dimension.OpenValidTo, IsCurrent: true},
		dimension.Version{SurrogateKey: 2, NaturalKey: "C1", ValidFrom: date("2024-02-01"), ValidTo: dimension.OpenValidTo, IsCurrent: true},
	)

	_, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{
		row("C1", "Ada", "B"),
		row("C2", "Bob", "X"),
	}})
	require.ErrorIs(t, err, dimension.ErrConsistency)

	history, err := store.History(ctx, "C2")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMerge_ManyKeysAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	engine, store := newMemoryEngine(Options{WorkerCount: 7})

	var rows []batch.SnapshotRow
	for i := 0; i < 500; i++ {
		rows = append(rows, row(fmt.Sprintf("C%03d", i), "n", "a"))
	}
	res, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-01-01"), Rows: rows})
	require.NoError(t, err)
	assert.Equal(t, 500, res.VersionsCreated)

	for i := range rows {
		rows[i].Attributes["address"] = dimension.Str("b")
	}
	res, err = engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-01-02"), Rows: rows})
	require.NoError(t, err)
	assert.Equal(t, 500, res.VersionsClosed)

	seen := map[dimension.SurrogateKey]bool{}
	for i := range rows {
		history, err := store.History(ctx, rows[i].NaturalKey)
		require.NoError(t, err)
		require.Len(t, history, 2)
		for _, v := range history {
			require.False(t, seen[v.SurrogateKey], "surrogate key %d reused", v.SurrogateKey)
			seen[v.SurrogateKey] = true
		}
	}
}

func TestMerge_CancelledContext(t *testing.T) {
	engine, store := newMemoryEngine(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Merge(ctx, batch.Snapshot{BusinessDate: date("2024-01-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "A")}})
	require.ErrorIs(t, err, context.Canceled)

	history, err := store.History(context.Background(), "C1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

// mockStore is a testify mock of storage.DimensionStore for failure injection.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetCurrent(ctx context.Context, key dimension.NaturalKey) (*dimension.Version, error) {
	args := m.Called(ctx, key)
	v, _ := args.Get(0).(*dimension.Version)
	return v, args.Error(1)
}

func (m *mockStore) GetAsOf(ctx context.Context, key dimension.NaturalKey, date time.Time) (*dimension.Version, error) {
	args := m.Called(ctx, key, date)
	v, _ := args.Get(0).(*dimension.Version)
	return v, args.Error(1)
}

func (m *mockStore) CloseAndInsert(ctx context.Context, oldSK dimension.SurrogateKey, v dimension.Version) (dimension.SurrogateKey, error) {
	args := m.Called(ctx, oldSK, v)
	return args.Get(0).(dimension.SurrogateKey), args.Error(1)
}

func (m *mockStore) History(ctx context.Context, key dimension.NaturalKey) ([]dimension.Version, error) {
	args := m.Called(ctx, key)
	vs, _ := args.Get(0).([]dimension.Version)
	return vs, args.Error(1)
}

func (m *mockStore) Allocator() dimension.KeyAllocator {
	return dimension.NewSequence()
}

func version(sk int64, key, address, from string) *dimension.Version {
	v := dimension.NewVersion(dimension.NaturalKey(key),
		dimension.Attributes{"name": dimension.Str("Ada"), "address": dimension.Str(address)}, date(from))
	v.SurrogateKey = dimension.SurrogateKey(sk)
	return &v
}

func TestMerge_ConflictRetryReplansAgainstNewCurrent(t *testing.T) {
	store := &mockStore{}
	engine := NewEngine(store, dimension.NewSequenceAt(100), dimension.NewDetector(tracked, dimension.Policy{}), Options{WorkerCount: 1, MaxConflictRetries: 2})

	store.On("GetCurrent", mock.Anything, dimension.NaturalKey("C1")).Return(version(1, "C1", "A", "2024-01-01"), nil).Once()
	store.On("CloseAndInsert", mock.Anything, dimension.SurrogateKey(1), mock.Anything).
		Return(dimension.SurrogateKey(0), dimension.ErrConflict).Once()
	// a concurrent writer moved C1 to address "Z"
	store.On("GetCurrent", mock.Anything, dimension.NaturalKey("C1")).Return(version(7, "C1", "Z", "2024-02-01"), nil).Once()
	store.On("CloseAndInsert", mock.Anything, dimension.SurrogateKey(7), mock.MatchedBy(func(v dimension.Version) bool {
		return v.SurrogateKey == 102 && *v.Attributes["address"] == "B" && v.ValidFrom.Equal(date("2024-03-01"))
	})).Return(dimension.SurrogateKey(102), nil).Once()

	res, err := engine.Merge(context.Background(), batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "B")}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ConflictRetries)
	assert.Equal(t, 1, res.VersionsCreated)
	assert.Equal(t, 1, res.VersionsClosed)
	store.AssertExpectations(t)
}

func TestMerge_ConflictResolvedByIdenticalConcurrentWrite(t *testing.T) {
	store := &mockStore{}
	engine := NewEngine(store, dimension.NewSequence(), dimension.NewDetector(tracked, dimension.Policy{}), Options{WorkerCount: 1, MaxConflictRetries: 2})

	store.On("GetCurrent", mock.Anything, dimension.NaturalKey("C1")).Return(nil, nil).Once()
	store.On("CloseAndInsert", mock.Anything, dimension.SurrogateKey(0), mock.Anything).
		Return(dimension.SurrogateKey(0), dimension.ErrConflict).Once()
	store.On("GetCurrent", mock.Anything, dimension.NaturalKey("C1")).Return(version(9, "C1", "B", "2024-03-01"), nil).Once()

	res, err := engine.Merge(context.Background(), batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "B")}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.VersionsCreated)
	assert.Equal(t, 1, res.Unchanged)
	store.AssertExpectations(t)
}

func TestMerge_ConflictRetriesExhausted(t *testing.T) {
	store := &mockStore{}
	engine := NewEngine(store, dimension.NewSequence(), dimension.NewDetector(tracked, dimension.Policy{}), Options{WorkerCount: 1, MaxConflictRetries: 2})

	store.On("GetCurrent", mock.Anything, dimension.NaturalKey("C1")).Return(version(1, "C1", "A", "2024-01-01"), nil)
	store.On("CloseAndInsert", mock.Anything, dimension.SurrogateKey(1), mock.Anything).
		Return(dimension.SurrogateKey(0), dimension.ErrConflict)

	res, err := engine.Merge(context.Background(), batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "B")}})
	require.ErrorIs(t, err, dimension.ErrConflict)
	assert.Equal(t, 2, res.ConflictRetries)
	store.AssertNumberOfCalls(t, "CloseAndInsert", 3)
}

func TestMerge_ZeroOptionsUseDefaultRetries(t *testing.T) {
	store := &mockStore{}
	engine := NewEngine(store, dimension.NewSequence(), dimension.NewDetector(tracked, dimension.Policy{}), Options{})

	store.On("GetCurrent", mock.Anything, dimension.NaturalKey("C1")).Return(version(1, "C1", "A", "2024-01-01"), nil)
	store.On("CloseAndInsert", mock.Anything, dimension.SurrogateKey(1), mock.Anything).
		Return(dimension.SurrogateKey(0), dimension.ErrConflict)

	res, err := engine.Merge(context.Background(), batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "B")}})
	require.ErrorIs(t, err, dimension.ErrConflict)
	assert.Equal(t, defaultMaxConflictRetries, res.ConflictRetries)
	store.AssertNumberOfCalls(t, "CloseAndInsert", defaultMaxConflictRetries+1)
}

func TestMerge_StorageErrorDuringPlanWritesNothing(t *testing.T) {
	store := &mockStore{}
	engine := NewEngine(store, dimension.NewSequence(), dimension.NewDetector(tracked, dimension.Policy{}), Options{WorkerCount: 1})

	store.On("GetCurrent", mock.Anything, dimension.NaturalKey("C1")).Return(nil, errors.New("connection reset"))

	_, err := engine.Merge(context.Background(), batch.Snapshot{BusinessDate: date("2024-03-01"), Rows: []batch.SnapshotRow{row("C1", "Ada", "B")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	store.AssertNotCalled(t, "CloseAndInsert", mock.Anything, mock.Anything, mock.Anything)
}
