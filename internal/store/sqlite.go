package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cnquant/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ StatementStore = (*SQLiteStore)(nil)
var _ ResultSink = (*SQLiteStore)(nil)

// SQLiteStore implements StatementStore and ResultSink backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		kind                  TEXT NOT NULL,
		strategy              TEXT NOT NULL,
		target                TEXT NOT NULL,
		created_at            INTEGER NOT NULL,
		final_net_value       REAL,
		max_drawdown          REAL,
		max_drawdown_duration INTEGER,
		sharpe_ratio          REAL,
		cagr                  REAL
	)`,
	`CREATE TABLE IF NOT EXISTS backtest_rows (
		run_id       INTEGER NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
		date         TEXT NOT NULL,
		net_value    REAL NOT NULL,
		daily_return REAL NOT NULL,
		hold         INTEGER,
		cash_held    REAL,
		stock_held   TEXT,
		PRIMARY KEY (run_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS statements (
		symbol TEXT NOT NULL,
		kind   TEXT NOT NULL,
		period TEXT NOT NULL,
		item   TEXT NOT NULL,
		value  REAL,
		PRIMARY KEY (symbol, kind, period, item)
	)`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ResultSink implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run summary and every daily row in one transaction, so
// a failed write leaves nothing behind.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	created := run.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO backtest_runs
			(kind, strategy, target, created_at, final_net_value, max_drawdown,
			 max_drawdown_duration, sharpe_ratio, cagr)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Kind, run.Strategy, run.Target, created.UnixMilli(),
		nullable(run.FinalNetValue), nullable(run.MaxDrawdown), run.MaxDrawdownDuration,
		nullable(run.SharpeRatio), nullable(run.CAGR),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO backtest_rows
			(run_id, date, net_value, daily_return, hold, cash_held, stock_held)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, row := range run.Rows {
		var hold, cash, held any
		if row.Hold != nil {
			hold = *row.Hold
		}
		if row.CashHeld != nil {
			cash = nullable(*row.CashHeld)
		}
		if row.StockHeld != nil {
			data, err := json.Marshal(row.StockHeld)
			if err != nil {
				return 0, fmt.Errorf("encoding holdings for %s: %w", row.Date.Format("2006-01-02"), err)
			}
			held = string(data)
		}
		if _, err := stmt.ExecContext(ctx, id, row.Date.Format("2006-01-02"),
			row.NetValue, row.DailyReturn, hold, cash, held); err != nil {
			return 0, fmt.Errorf("inserting row %s: %w", row.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// ListRuns returns the most recent runs, up to limit, without their rows.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, strategy, target, created_at, final_net_value, max_drawdown,
		        max_drawdown_duration, sharpe_ratio, cagr
		   FROM backtest_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			r                      RunRecord
			created                int64
			final, dd, sharpe, cgr sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.Kind, &r.Strategy, &r.Target, &created,
			&final, &dd, &r.MaxDrawdownDuration, &sharpe, &cgr); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(created)
		r.FinalNetValue = floatOrNaN(final)
		r.MaxDrawdown = floatOrNaN(dd)
		r.SharpeRatio = floatOrNaN(sharpe)
		r.CAGR = floatOrNaN(cgr)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadRows returns the daily rows of a stored run ordered by date.
func (s *SQLiteStore) LoadRows(ctx context.Context, runID int64) ([]RunRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, net_value, daily_return, hold, cash_held, stock_held
		   FROM backtest_rows WHERE run_id = ? ORDER BY date`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			date string
			row  RunRow
			hold sql.NullInt64
			cash sql.NullFloat64
			held sql.NullString
		)
		if err := rows.Scan(&date, &row.NetValue, &row.DailyReturn, &hold, &cash, &held); err != nil {
			return nil, err
		}
		if row.Date, err = time.Parse("2006-01-02", date); err != nil {
			return nil, err
		}
		if hold.Valid {
			h := int(hold.Int64)
			row.Hold = &h
		}
		if cash.Valid {
			c := cash.Float64
			row.CashHeld = &c
		}
		if held.Valid {
			if err := json.Unmarshal([]byte(held.String), &row.StockHeld); err != nil {
				return nil, fmt.Errorf("decoding holdings for %s: %w", date, err)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("run %d: %w", runID, domain.ErrNotFound)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// StatementStore implementation
// ---------------------------------------------------------------------------

// WriteStatement upserts every (period, item) value of the rows.
func (s *SQLiteStore) WriteStatement(ctx context.Context, symbol string, kind domain.StatementKind, rows []domain.StatementRow) error {
	if _, err := domain.ParseStatementKind(string(kind)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO statements (symbol, kind, period, item, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		for item, v := range row.Values {
			if _, err := stmt.ExecContext(ctx, symbol, string(kind), row.Period, item, nullable(v)); err != nil {
				return fmt.Errorf("writing %s %s %s/%s: %w", symbol, kind, row.Period, item, err)
			}
		}
	}
	return tx.Commit()
}

// ReadStatement returns the symbol's statement rows ordered by period.
// Missing values come back as NaN.
func (s *SQLiteStore) ReadStatement(ctx context.Context, symbol string, kind domain.StatementKind) ([]domain.StatementRow, error) {
	if _, err := domain.ParseStatementKind(string(kind)); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT period, item, value FROM statements
		  WHERE symbol = ? AND kind = ? ORDER BY period, item`, symbol, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StatementRow
	for rows.Next() {
		var (
			period, item string
			value        sql.NullFloat64
		)
		if err := rows.Scan(&period, &item, &value); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].Period != period {
			out = append(out, domain.StatementRow{Period: period, Values: make(map[string]float64)})
		}
		out[len(out)-1].Values[item] = floatOrNaN(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s for %s: %w", kind, symbol, domain.ErrNotFound)
	}
	return out, nil
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsBusy reports whether err is SQLite refusing a write because another
// connection holds the database lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// nullable maps undefined numbers to SQL NULL.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
