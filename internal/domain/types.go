// Package domain holds the core value types shared across cnquant: daily
// bars, date ranges, financial statement rows and the error taxonomy.
package domain

import (
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketCN Market = "cn"
)

// SeriesKind selects the namespace a bar series is stored under. Stocks and
// reference indices share a code space (000001 is both Ping An Bank and the
// SSE Composite), so they are kept apart.
type SeriesKind string

const (
	KindDaily SeriesKind = "daily"
	KindIndex SeriesKind = "index"
)

// Bar is one trading day of OHLCV data for a symbol.
type Bar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Day truncates t to its calendar day at UTC midnight. All bar dates are kept
// in this form so they can be compared with ==.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StatementKind names a financial statement or summary table.
type StatementKind string

const (
	StatementBalanceSheet StatementKind = "balance_sheet"
	StatementProfit       StatementKind = "profit_statement"
	StatementCashFlow     StatementKind = "cash_flow"

	TableReport     StatementKind = "report"
	TableProfit     StatementKind = "profit"
	TableOperation  StatementKind = "operation"
	TableGrowth     StatementKind = "growth"
	TableDebtPaying StatementKind = "debtpaying"
	TableCashFlow   StatementKind = "cashflow"
)

// StatementKinds lists every supported statement kind.
var StatementKinds = []StatementKind{
	StatementBalanceSheet, StatementProfit, StatementCashFlow,
	TableReport, TableProfit, TableOperation, TableGrowth, TableDebtPaying, TableCashFlow,
}

// StatementRow is one reporting period of a financial statement.
type StatementRow struct {
	Period string // e.g. "2016-12-31"
	Values map[string]float64
}
