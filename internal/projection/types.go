package projection

import (
	"time"

	"github.com/shopspring/decimal"
)

// VersionView is one customer version as served by the read API.
type VersionView struct {
	SurrogateKey int64              `json:"surrogate_key"`
	NaturalKey   string             `json:"natural_key"`
	Attributes   map[string]*string `json:"attributes"`
	ValidFrom    string             `json:"valid_from"`
	ValidTo      string             `json:"valid_to"`
	IsCurrent    bool               `json:"is_current"`
}

// HistoryResponse lists every version of one customer ordered by valid_from.
type HistoryResponse struct {
	NaturalKey string        `json:"natural_key"`
	Versions   []VersionView `json:"versions"`
}

// AsOfResponse is the version valid on Date.
type AsOfResponse struct {
	NaturalKey string      `json:"natural_key"`
	Date       string      `json:"date"`
	Version    VersionView `json:"version"`
}

// BookingRow is one fact_booking_daily row.
type BookingRow struct {
	Category         string          `json:"category"`
	NaturalKey       string          `json:"natural_key"`
	SurrogateKey     int64           `json:"surrogate_key"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	Quantity         decimal.Decimal `json:"quantity"`
	TransactionCount int64           `json:"transaction_count"`
}

// CategoryTotal rolls the partition up to one category.
type CategoryTotal struct {
	Category         string          `json:"category"`
	Customers        int             `json:"customers"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	Quantity         decimal.Decimal `json:"quantity"`
	TransactionCount int64           `json:"transaction_count"`
}

// BookingsResponse is the fact partition of one business date.
type BookingsResponse struct {
	BusinessDate string          `json:"business_date"`
	Rows         []BookingRow    `json:"rows,omitempty"`
	Categories   []CategoryTotal `json:"categories,omitempty"`
	Total        CategoryTotal   `json:"total"`
}

// RunView is one run log entry.
type RunView struct {
	RunID           string    `json:"run_id"`
	Kind            string    `json:"kind"`
	BusinessDate    string    `json:"business_date"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	RowsRead        int       `json:"rows_read"`
	VersionsCreated int       `json:"versions_created"`
	VersionsClosed  int       `json:"versions_closed"`
	Unchanged       int       `json:"unchanged"`
	FactRowsWritten int       `json:"fact_rows_written"`
	OrphanCount     int       `json:"orphan_count"`
	Errors          []string  `json:"errors"`
}
