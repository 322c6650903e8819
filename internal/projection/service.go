package projection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aevon-lab/dimledger/internal/core/dimension"
	"github.com/aevon-lab/dimledger/internal/core/fact"
	"github.com/aevon-lab/dimledger/internal/core/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid query")
)

// Service implements the read-only query layer over the dimension, fact and run stores.
type Service struct {
	dims  storage.DimensionStore
	facts storage.FactStore
	runs  storage.RunLog
}

// NewService creates a new projection service.
func NewService(dims storage.DimensionStore, facts storage.FactStore, runs storage.RunLog) *Service {
	if dims == nil || facts == nil || runs == nil {
		panic("projection: dimension, fact and run stores are required")
	}
	return &Service{dims: dims, facts: facts, runs: runs}
}

// CustomerHistory returns every version of key. storage.ErrNotFound when none exist.
func (s *Service) CustomerHistory(ctx context.Context, key string) (*HistoryResponse, error) {
	nk, err := naturalKey(key)
	if err != nil {
		return nil, err
	}
	versions, err := s.dims.History(ctx, nk)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", nk, err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("customer %s: %w", nk, storage.ErrNotFound)
	}

	resp := &HistoryResponse{NaturalKey: string(nk), Versions: make([]VersionView, 0, len(versions))}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, viewVersion(v))
	}
	return resp, nil
}

// CustomerAsOf returns the version of key valid on date (YYYY-MM-DD).
func (s *Service) CustomerAsOf(ctx context.Context, key, date string) (*AsOfResponse, error) {
	nk, err := naturalKey(key)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}

	v, err := s.dims.GetAsOf(ctx, nk, day)
	if err != nil {
		return nil, fmt.Errorf("read %s as of %s: %w", nk, date, err)
	}
	if v == nil {
		return nil, fmt.Errorf("customer %s on %s: %w", nk, date, storage.ErrNotFound)
	}
	return &AsOfResponse{NaturalKey: string(nk), Date: day.Format(dimension.DateLayout), Version: viewVersion(*v)}, nil
}

// Bookings returns the fact partition of date. groupBy "" lists rows, "category"
// rolls them up per category instead. The total is always present.
func (s *Service) Bookings(ctx context.Context, date, groupBy string) (*BookingsResponse, error) {
	day, err := parseDate(date)
	if err != nil {
		return nil, err
	}
	if groupBy != "" && groupBy != "category" {
		return nil, invalidQueryf("invalid group_by: %s (must be category)", groupBy)
	}

	rows, err := s.facts.ListPartition(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list partition %s: %w", date, err)
	}

	resp := &BookingsResponse{BusinessDate: day.Format(dimension.DateLayout), Total: rollupTotal(rows)}
	if groupBy == "category" {
		resp.Categories = rollupByCategory(rows)
		return resp, nil
	}
	resp.Rows = make([]BookingRow, 0, len(rows))
	for _, r := range rows {
		resp.Rows = append(resp.Rows, viewRow(r))
	}
	return resp, nil
}

// Runs returns the newest run log entries. limit 0 means the default.
func (s *Service) Runs(ctx context.Context, limit int) ([]RunView, error) {
	switch {
	case limit == 0:
		limit = defaultRunLimit
	case limit < 0 || limit > maxRunLimit:
		return nil, invalidQueryf("limit must be between 1 and %d", maxRunLimit)
	}

	recs, err := s.runs.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunView, 0, len(recs))
	for _, rec := range recs {
		errs := rec.Errors
		if errs == nil {
			errs = []string{}
		}
		out = append(out, RunView{
			RunID:           rec.RunID,
			Kind:            rec.Kind,
			BusinessDate:    rec.BusinessDate.Format(dimension.DateLayout),
			Status:          rec.Status,
			StartedAt:       rec.StartedAt,
			FinishedAt:      rec.FinishedAt,
			RowsRead:        rec.RowsRead,
			VersionsCreated: rec.VersionsCreated,
			VersionsClosed:  rec.VersionsClosed,
			Unchanged:       rec.Unchanged,
			FactRowsWritten: rec.FactRowsWritten,
			OrphanCount:     rec.OrphanCount,
			Errors:          errs,
		})
	}
	return out, nil
}

func viewVersion(v dimension.Version) VersionView {
	return VersionView{
		SurrogateKey: int64(v.SurrogateKey),
		NaturalKey:   string(v.NaturalKey),
		Attributes:   v.Attributes,
		ValidFrom:    v.ValidFrom.Format(dimension.DateLayout),
		ValidTo:      v.ValidTo.Format(dimension.DateLayout),
		IsCurrent:    v.IsCurrent,
	}
}

func viewRow(r fact.Row) BookingRow {
	return BookingRow{
		Category:         r.Category,
		NaturalKey:       string(r.NaturalKey),
		SurrogateKey:     int64(r.SurrogateKey),
		NetAmount:        r.NetAmount,
		Quantity:         r.Quantity,
		TransactionCount: r.TransactionCount,
	}
}

func naturalKey(key string) (dimension.NaturalKey, error) {
	if strings.TrimSpace(key) == "" {
		return "", invalidQueryf("natural_key is required")
	}
	return dimension.NaturalKey(key), nil
}

func parseDate(date string) (time.Time, error) {
	if date == "" {
		return time.Time{}, invalidQueryf("date is required")
	}
	d, err := dimension.ParseDate(date)
	if err != nil {
		return time.Time{}, invalidQueryf("%v", err)
	}
	return d, nil
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
