package backtest

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"cnquant/internal/perf"
	"cnquant/internal/store"
)

// Run kinds.
const (
	KindSingle    = "single"
	KindPortfolio = "portfolio"
)

// Result is the day-by-day outcome of one run.
type Result struct {
	Kind     string
	Strategy string
	Target   string // symbol, or comma-joined pool names
	Rows     []Row
}

// Row is one simulated day. Hold is used by single-asset runs; CashHeld and
// StockHeld by portfolio runs. Each row owns its StockHeld map.
type Row struct {
	Date        time.Time
	NetValue    float64
	DailyReturn float64
	Hold        int
	CashHeld    float64
	StockHeld   map[string]float64
}

// Dates returns the simulated days.
func (r *Result) Dates() []time.Time {
	out := make([]time.Time, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.Date
	}
	return out
}

// NetValues returns the net value of every day.
func (r *Result) NetValues() []float64 {
	out := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.NetValue
	}
	return out
}

// DailyReturns returns the return of every day.
func (r *Result) DailyReturns() []float64 {
	out := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = row.DailyReturn
	}
	return out
}

// FinalNetValue returns the last day's net value, or 1 for an empty result.
func (r *Result) FinalNetValue() float64 {
	if len(r.Rows) == 0 {
		return 1
	}
	return r.Rows[len(r.Rows)-1].NetValue
}

// Measure returns the performance statistics of the run.
func (r *Result) Measure() (*perf.Measure, error) {
	return perf.New(r.Dates(), r.NetValues(), r.DailyReturns())
}

// Record converts the result and its summary into the persisted form.
func (r *Result) Record(s perf.Summary) *store.RunRecord {
	rec := &store.RunRecord{
		Kind:                r.Kind,
		Strategy:            r.Strategy,
		Target:              r.Target,
		CreatedAt:           time.Now(),
		FinalNetValue:       s.FinalNetValue,
		MaxDrawdown:         s.MaxDrawdown.Value,
		MaxDrawdownDuration: s.MaxDrawdownDuration.Days,
		SharpeRatio:         s.SharpeRatio,
		CAGR:                s.CAGR,
		Rows:                make([]store.RunRow, len(r.Rows)),
	}
	for i, row := range r.Rows {
		out := store.RunRow{Date: row.Date, NetValue: row.NetValue, DailyReturn: row.DailyReturn}
		if r.Kind == KindPortfolio {
			cash := row.CashHeld
			out.CashHeld = &cash
			out.StockHeld = row.StockHeld
		} else {
			hold := row.Hold
			out.Hold = &hold
		}
		rec.Rows[i] = out
	}
	return rec
}

// WriteCSV writes the rows as CSV. Portfolio runs get cash_held and one
// column per symbol ever held.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"date", "net_value", "daily_return"}
	var symbols []string
	if r.Kind == KindPortfolio {
		seen := make(map[string]bool)
		for _, row := range r.Rows {
			for sym := range row.StockHeld {
				if !seen[sym] {
					seen[sym] = true
					symbols = append(symbols, sym)
				}
			}
		}
		sort.Strings(symbols)
		header = append(header, "cash_held")
		header = append(header, symbols...)
	} else {
		header = append(header, "hold")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, row := range r.Rows {
		rec := []string{row.Date.Format("2006-01-02"), formatF(row.NetValue), formatF(row.DailyReturn)}
		if r.Kind == KindPortfolio {
			rec = append(rec, formatF(row.CashHeld))
			for _, sym := range symbols {
				v, ok := row.StockHeld[sym]
				if !ok {
					rec = append(rec, "")
					continue
				}
				rec = append(rec, formatF(v))
			}
		} else {
			rec = append(rec, strconv.Itoa(row.Hold))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
