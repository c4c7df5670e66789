package backtest

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/strategy"
	"cnquant/internal/strategy/builtins"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dayN(i int) time.Time { return epoch.AddDate(0, 0, i) }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// flatBars builds bars that open at the close with a one percent range.
func flatBars(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Date: dayN(i), Open: c, High: c * 1.01, Low: c * 0.99, Close: c}
	}
	return bars
}

func newSeries(t *testing.T, symbol string, bars []domain.Bar) *kline.Series {
	t.Helper()
	s, err := kline.New(symbol, bars)
	require.NoError(t, err)
	return s
}

// scripted answers from per-position rules keyed by symbol.
type scripted struct {
	exists func(sym string, i int) bool
	buy    func(sym string, i int) bool
	sell   func(sym string, i int) bool
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Signal(q strategy.Query, ks *kline.Series, date time.Time) bool {
	i, ok := ks.Position(date)
	if !ok {
		return false
	}
	var fn func(string, int) bool
	switch q {
	case strategy.Exists:
		fn = s.exists
	case strategy.Buy:
		fn = s.buy
	case strategy.Sell:
		fn = s.sell
	}
	if fn == nil {
		return q == strategy.Exists
	}
	return fn(ks.Symbol(), i)
}

func on(days ...int) func(string, int) bool {
	return func(_ string, i int) bool {
		for _, d := range days {
			if d == i {
				return true
			}
		}
		return false
	}
}

// countingSell records how many sell queries answered true.
type countingSell struct {
	strategy.Strategy
	sellTrue []int
}

func (c *countingSell) Signal(q strategy.Query, ks *kline.Series, date time.Time) bool {
	v := c.Strategy.Signal(q, ks, date)
	if q == strategy.Sell && v {
		i, _ := ks.Position(date)
		c.sellTrue = append(c.sellTrue, i)
	}
	return v
}

// ---------------------------------------------------------------------------
// Fill model
// ---------------------------------------------------------------------------

func TestDealSuccess(t *testing.T) {
	tests := []struct {
		side            Side
		high, low, prev float64
		want            bool
	}{
		{SideBuy, 11, 11, 10, false},  // limit up
		{SideBuy, 9, 9, 10, true},     // locked down, buying is fine
		{SideBuy, 11, 10.5, 10, true}, // traded range
		{SideBuy, 10, 10, 10, true},
		{SideSell, 9, 9, 10, false},   // limit down
		{SideSell, 11, 11, 10, true},  // locked up, selling is fine
		{SideSell, 9.5, 9, 10, true},
		{SideSell, 10, 10, 10, true},
	}
	for _, tt := range tests {
		got := DealSuccess(tt.side, tt.high, tt.low, tt.prev)
		assert.Equal(t, tt.want, got, "%s high=%v low=%v prev=%v", tt.side, tt.high, tt.low, tt.prev)
	}
}

func TestLessCash(t *testing.T) {
	assert.False(t, lessCash(0.1-1e-17, 0.1), "float noise below 12 digits is ignored")
	assert.True(t, lessCash(0.09, 0.1))
	assert.False(t, lessCash(0.1, 0.1))
	assert.True(t, lessCash(1.3877787807814457e-16, 0.1))
}

func TestEqualSlots(t *testing.T) {
	assert.InDelta(t, 0.12, DefaultSizer().Unit(1.2), 1e-15)
	_, err := NewEqualSlots(0)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

// ---------------------------------------------------------------------------
// Single asset
// ---------------------------------------------------------------------------

// risingBars rises one percent a day with each open at the previous close.
func risingBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	c := 100.0
	for i := range bars {
		open := c
		if i > 0 {
			c *= 1.01
		}
		bars[i] = domain.Bar{Date: dayN(i), Open: open, High: c * 1.02, Low: open * 0.98, Close: c}
	}
	return bars
}

func TestSingleHoldingRoundTrip(t *testing.T) {
	const n = 20
	ks := newSeries(t, "600000", risingBars(n))
	costs := DefaultCosts()

	res, err := NewSingle(ks, builtins.NewHolding(), costs, quiet).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rows, n)

	assert.Equal(t, 0, res.Rows[0].Hold)
	assert.Equal(t, 1.0, res.Rows[0].NetValue)
	for i := 1; i < n; i++ {
		assert.Equal(t, 1, res.Rows[i].Hold, "day %d", i)
	}
	want := math.Pow(1.01, n-1) / (1 + costs.Brokerage)
	assert.InDelta(t, want, res.FinalNetValue(), 1e-9)
	assert.InDelta(t, 0.01, res.Rows[5].DailyReturn, 1e-12)
}

func TestSingleDualMACrossing(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10
		if i >= 10 && i < 20 {
			closes[i] = 20
		}
	}
	ks := newSeries(t, "600036", flatBars(closes...))
	dual, err := builtins.NewDualMA(2, 4)
	require.NoError(t, err)
	counting := &countingSell{Strategy: dual}
	costs := DefaultCosts()

	res, err := NewSingle(ks, counting, costs, quiet).Run(context.Background())
	require.NoError(t, err)

	for i, row := range res.Rows {
		want := 0
		if i >= 11 && i <= 20 {
			want = 1
		}
		assert.Equal(t, want, row.Hold, "hold on day %d", i)
	}
	assert.Equal(t, []int{20}, counting.sellTrue, "sell answers true once, while held")

	bought := 1 / (1 + costs.Brokerage)
	assert.InDelta(t, bought-1, res.Rows[11].DailyReturn, 1e-12)
	assert.InDelta(t, -0.5, res.Rows[20].DailyReturn, 1e-12)
	assert.InDelta(t, -costs.Brokerage-costs.StampDuty, res.Rows[21].DailyReturn, 1e-12)
	assert.InDelta(t, bought*0.5*(1-costs.Brokerage-costs.StampDuty), res.FinalNetValue(), 1e-12)
}

func TestSingleSkippedDays(t *testing.T) {
	ks := newSeries(t, "600519", risingBars(10))
	s := &scripted{
		exists: func(_ string, i int) bool { return i != 5 },
		buy:    on(0),
		sell:   func(string, int) bool { return false },
	}
	costs := DefaultCosts()

	res, err := NewSingle(ks, s, costs, quiet).Run(context.Background())
	require.NoError(t, err)

	skipped := res.Rows[5]
	assert.Equal(t, 0, skipped.Hold)
	assert.Equal(t, 0.0, skipped.DailyReturn)
	assert.Equal(t, res.Rows[4].NetValue, skipped.NetValue)

	// The day after a skip is treated as a fresh buy at the open.
	bar := ks.Bar(6)
	assert.InDelta(t, bar.Close/bar.Open/(1+costs.Brokerage)-1, res.Rows[6].DailyReturn, 1e-12)
	assert.Equal(t, 1, res.Rows[6].Hold)
}

func TestSingleRerunResets(t *testing.T) {
	ks := newSeries(t, "600000", risingBars(10))
	b := NewSingle(ks, builtins.NewHolding(), DefaultCosts(), quiet)

	first, err := b.Run(context.Background())
	require.NoError(t, err)
	second, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.NetValues(), second.NetValues())
}

func TestSingleEmptyWindow(t *testing.T) {
	ks := newSeries(t, "600000", risingBars(5))
	require.NoError(t, ks.RestrictWindow(domain.DateRange{Start: dayN(100)}))

	_, err := NewSingle(ks, builtins.NewHolding(), DefaultCosts(), quiet).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}

func TestSingleCancelled(t *testing.T) {
	ks := newSeries(t, "600000", risingBars(5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewSingle(ks, builtins.NewHolding(), DefaultCosts(), quiet).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

// ---------------------------------------------------------------------------
// Portfolio
// ---------------------------------------------------------------------------

func runPortfolio(t *testing.T, pools []Pool, series map[string]*kline.Series, s strategy.Strategy) *Result {
	t.Helper()
	p, err := NewPortfolio(pools, series, s, DefaultCosts(), WithLogger(quiet))
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestPortfolioBuyFailsWhenCashShortAndLimitUp(t *testing.T) {
	series := make(map[string]*kline.Series)
	var symbols []string
	for k := 0; k < 10; k++ {
		sym := string(rune('A' + k))
		symbols = append(symbols, sym)
		series[sym] = newSeries(t, sym, flatBars(10, 10, 10))
	}
	locked := flatBars(10, 11, 11)
	locked[1].Open, locked[1].High, locked[1].Low = 11, 11, 11
	series["L"] = newSeries(t, "L", locked)
	symbols = append(symbols, "L")

	res := runPortfolio(t, []Pool{{Name: "all", Symbols: symbols}}, series, builtins.NewHolding())

	wantCash := 1.0
	for k := 0; k < 10; k++ {
		wantCash -= 0.1
	}
	day1 := res.Rows[1]
	assert.Len(t, day1.StockHeld, 10)
	assert.NotContains(t, day1.StockHeld, "L")
	assert.Equal(t, wantCash, day1.CashHeld)
}

// A buy is abandoned only when cash is short AND the fill fails. With ample
// cash a locked limit-up day still fills; the cash-short case above is the
// one where the limit-up guard applies.
func TestPortfolioLimitUpBuyFillsWithAmpleCash(t *testing.T) {
	bars := flatBars(10, 11, 11)
	bars[1].Open, bars[1].High, bars[1].Low = 11, 11, 11
	series := map[string]*kline.Series{"U": newSeries(t, "U", bars)}

	res := runPortfolio(t, []Pool{{Name: "u", Symbols: []string{"U"}}}, series, builtins.NewHolding())

	day1 := res.Rows[1]
	require.Contains(t, day1.StockHeld, "U")
	assert.InDelta(t, 0.9, day1.CashHeld, 1e-12)
	assert.InDelta(t, 0.1/(1+DefaultCosts().Brokerage), day1.StockHeld["U"], 1e-12)
}

func TestPortfolioSuspensionCarriesPosition(t *testing.T) {
	a := flatBars(10, 10, 10, 10, 10, 10)
	b := flatBars(10, 10, 11, 11, 12.1, 12.1)
	b = append(b[:3], b[4:]...) // suspended on day 3
	series := map[string]*kline.Series{
		"A": newSeries(t, "A", a),
		"B": newSeries(t, "B", b),
	}

	res := runPortfolio(t, []Pool{{Name: "ab", Symbols: []string{"A", "B"}}}, series, builtins.NewHolding())
	require.Len(t, res.Rows, 6)

	day2, day3, day4 := res.Rows[2], res.Rows[3], res.Rows[4]
	require.Contains(t, day3.StockHeld, "B")
	assert.Equal(t, day2.StockHeld["B"], day3.StockHeld["B"])
	assert.InDelta(t, day3.StockHeld["B"]*12.1/11, day4.StockHeld["B"], 1e-12)
}

func TestPortfolioSellRetriesAfterLimitDown(t *testing.T) {
	bars := flatBars(10, 10, 10, 9, 9.5)
	bars[3].Open, bars[3].High, bars[3].Low = 9, 9, 9
	series := map[string]*kline.Series{"S": newSeries(t, "S", bars)}
	s := &scripted{buy: on(0), sell: on(2)}
	costs := DefaultCosts()

	res := runPortfolio(t, []Pool{{Name: "s", Symbols: []string{"S"}}}, series, s)

	day2, day3, day4 := res.Rows[2], res.Rows[3], res.Rows[4]
	require.Contains(t, day3.StockHeld, "S", "a limit-down sell keeps the position")
	assert.InDelta(t, day2.StockHeld["S"]*0.9, day3.StockHeld["S"], 1e-12)
	assert.Equal(t, day2.CashHeld, day3.CashHeld)
	assert.InDelta(t, -0.1*day2.StockHeld["S"]/day2.NetValue, day3.DailyReturn, 1e-12)

	assert.NotContains(t, day4.StockHeld, "S")
	proceeds := 9.5 / 9 * (1 - costs.Brokerage - costs.StampDuty) * day3.StockHeld["S"]
	assert.InDelta(t, day3.CashHeld+proceeds, day4.CashHeld, 1e-12)
}

func TestPortfolioExistsFalseCarriesPosition(t *testing.T) {
	series := map[string]*kline.Series{"X": newSeries(t, "X", flatBars(10, 10, 12, 13, 14))}
	s := &scripted{
		exists: func(_ string, i int) bool { return i != 3 },
		buy:    on(0),
		sell:   func(string, int) bool { return false },
	}

	res := runPortfolio(t, []Pool{{Name: "x", Symbols: []string{"X"}}}, series, s)
	assert.Equal(t, res.Rows[2].StockHeld["X"], res.Rows[3].StockHeld["X"])
	assert.Equal(t, res.Rows[2].NetValue, res.Rows[3].NetValue)
	assert.InDelta(t, res.Rows[3].StockHeld["X"]*14/13, res.Rows[4].StockHeld["X"], 1e-12)
}

func TestPortfolioSnapshotsAreIndependent(t *testing.T) {
	series := map[string]*kline.Series{"A": newSeries(t, "A", flatBars(10, 11, 12, 13))}
	res := runPortfolio(t, []Pool{{Name: "a", Symbols: []string{"A"}}}, series, builtins.NewHolding())

	before := res.Rows[3].StockHeld["A"]
	res.Rows[2].StockHeld["A"] = 42
	assert.Equal(t, before, res.Rows[3].StockHeld["A"])
	assert.Empty(t, res.Rows[0].StockHeld)
}

func TestPortfolioNetValueAccounting(t *testing.T) {
	series := make(map[string]*kline.Series)
	var symbols []string
	for k := 0; k < 5; k++ {
		sym := string(rune('P' + k))
		closes := make([]float64, 60)
		for i := range closes {
			closes[i] = 20 + 3*math.Sin(float64(i*(k+1))/5) + float64(k)
		}
		symbols = append(symbols, sym)
		series[sym] = newSeries(t, sym, flatBars(closes...))
	}

	res := runPortfolio(t, []Pool{{Name: "mix", Symbols: symbols}}, series, builtins.NewRandom(7))

	prevNAV := 1.0
	for i, row := range res.Rows {
		sum := row.CashHeld
		for _, v := range row.StockHeld {
			sum += v
		}
		assert.InDelta(t, row.NetValue, sum, 1e-9, "cash plus positions on day %d", i)
		assert.InDelta(t, row.NetValue-prevNAV, row.DailyReturn*prevNAV, 1e-12, "daily return on day %d", i)
		prevNAV = row.NetValue
	}
}

func TestPortfolioPools(t *testing.T) {
	series := map[string]*kline.Series{
		"A": newSeries(t, "A", flatBars(1, 2)),
		"B": newSeries(t, "B", flatBars(1, 2, 3)),
		"C": newSeries(t, "C", flatBars(1)),
	}
	pools := []Pool{{Name: "p1", Symbols: []string{"A", "B"}}, {Name: "p2", Symbols: []string{"B", "C", "A"}}}

	p, err := NewPortfolio(pools, series, builtins.NewHolding(), DefaultCosts())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, p.Symbols())
	assert.Equal(t, []time.Time{dayN(0), dayN(1), dayN(2)}, p.Dates())

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p1,p2", res.Target)
	assert.Equal(t, KindPortfolio, res.Kind)

	_, err = NewPortfolio([]Pool{{Name: "z", Symbols: []string{"Z"}}}, series, builtins.NewHolding(), DefaultCosts())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

func TestResultMeasureAndRecord(t *testing.T) {
	ks := newSeries(t, "600000", risingBars(10))
	res, err := NewSingle(ks, builtins.NewHolding(), DefaultCosts(), quiet).Run(context.Background())
	require.NoError(t, err)

	m, err := res.Measure()
	require.NoError(t, err)
	summary := m.Summary()
	assert.Equal(t, 0.0, summary.MaxDrawdown.Value)

	rec := res.Record(summary)
	assert.Equal(t, KindSingle, rec.Kind)
	assert.Equal(t, "holding", rec.Strategy)
	assert.Equal(t, "600000", rec.Target)
	require.Len(t, rec.Rows, 10)
	require.NotNil(t, rec.Rows[3].Hold)
	assert.Equal(t, 1, *rec.Rows[3].Hold)
	assert.Nil(t, rec.Rows[3].CashHeld)
	assert.InDelta(t, res.FinalNetValue(), rec.FinalNetValue, 1e-15)
}

func TestResultWriteCSV(t *testing.T) {
	res := &Result{
		Kind: KindPortfolio,
		Rows: []Row{
			{Date: dayN(0), NetValue: 1, CashHeld: 1, StockHeld: map[string]float64{}},
			{Date: dayN(1), NetValue: 1.5, DailyReturn: 0.5, CashHeld: 0.9, StockHeld: map[string]float64{"B": 0.6}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, res.WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,net_value,daily_return,cash_held,B", lines[0])
	assert.Equal(t, "2024-01-01,1,0,1,", lines[1])
	assert.Equal(t, "2024-01-02,1.5,0.5,0.9,0.6", lines[2])

	single := &Result{Kind: KindSingle, Rows: []Row{{Date: dayN(0), NetValue: 1, Hold: 1}}}
	buf.Reset()
	require.NoError(t, single.WriteCSV(&buf))
	assert.Equal(t, "date,net_value,daily_return,hold\n2024-01-01,1,0,1\n", buf.String())
}

func TestReferenceReturn(t *testing.T) {
	bars := make([]domain.Bar, 10)
	for i := range bars {
		bars[i] = domain.Bar{Date: dayN(i), Open: 100 + float64(i), High: 120, Low: 90, Close: 101 + float64(i)}
	}
	ref := newSeries(t, "000001", bars)

	// Run days 2..6 with day 4 missing from the run; the index bars of the
	// span decide: open of day 2, close of day 6.
	got, err := ReferenceReturn(ref, []time.Time{dayN(2), dayN(3), dayN(5), dayN(6)})
	require.NoError(t, err)
	assert.InDelta(t, 107.0/102.0, got, 1e-12)

	// A run starting before the index does uses the index's first bar.
	got, err = ReferenceReturn(ref, []time.Time{dayN(-3), dayN(1)})
	require.NoError(t, err)
	assert.InDelta(t, 102.0/100.0, got, 1e-12)

	// The reference's own window does not narrow the span.
	require.NoError(t, ref.RestrictWindow(domain.DateRange{Start: dayN(8)}))
	got, err = ReferenceReturn(ref, []time.Time{dayN(0), dayN(9)})
	require.NoError(t, err)
	assert.InDelta(t, 110.0/100.0, got, 1e-12)

	_, err = ReferenceReturn(ref, []time.Time{dayN(20), dayN(25)})
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
	_, err = ReferenceReturn(ref, nil)
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
}
