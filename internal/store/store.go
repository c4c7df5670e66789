// Package store defines the data collaborators of the backtesting engine:
// price history providers, symbol pools, financial statements and the sink
// that persists backtest results.
package store

import (
	"context"
	"time"

	"cnquant/internal/domain"
)

// BarReader retrieves daily bar data.
type BarReader interface {
	// ReadBars returns the symbol's bars of the given kind within r, sorted
	// ascending by date. It fails with domain.ErrNotFound when the symbol has
	// no data at all.
	ReadBars(ctx context.Context, kind domain.SeriesKind, symbol string, r domain.DateRange) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available for the kind.
	ListSymbols(ctx context.Context, kind domain.SeriesKind) ([]string, error)
}

// BarStore persists and retrieves daily bar data.
type BarStore interface {
	BarReader

	// WriteBars persists a batch of bars under the given kind.
	WriteBars(ctx context.Context, kind domain.SeriesKind, bars []domain.Bar) error
}

// PoolStore resolves a named pool to its member symbols.
type PoolStore interface {
	// LoadPool returns the symbols of the pool in file order.
	LoadPool(ctx context.Context, name string) ([]string, error)
}

// StatementStore persists and retrieves financial statements.
type StatementStore interface {
	// WriteStatement upserts period rows of one statement for a symbol.
	WriteStatement(ctx context.Context, symbol string, kind domain.StatementKind, rows []domain.StatementRow) error

	// ReadStatement returns the symbol's statement rows ordered by period.
	ReadStatement(ctx context.Context, symbol string, kind domain.StatementKind) ([]domain.StatementRow, error)
}

// ResultSink persists completed backtest runs.
type ResultSink interface {
	// SaveRun stores one run with all of its daily rows and returns its ID.
	SaveRun(ctx context.Context, run *RunRecord) (int64, error)

	// ListRuns returns the most recent runs, up to limit, without rows.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// RunRecord is the persisted form of one backtest run.
type RunRecord struct {
	ID        int64
	Kind      string // "single" or "portfolio"
	Strategy  string
	Target    string // symbol, or comma-joined pool names
	CreatedAt time.Time

	FinalNetValue       float64
	MaxDrawdown         float64
	MaxDrawdownDuration int
	SharpeRatio         float64
	CAGR                float64

	Rows []RunRow
}

// RunRow is one simulated day of a run. Hold is set for single-asset runs;
// CashHeld and StockHeld for portfolio runs.
type RunRow struct {
	Date        time.Time
	NetValue    float64
	DailyReturn float64
	Hold        *int
	CashHeld    *float64
	StockHeld   map[string]float64
}
