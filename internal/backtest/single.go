package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/strategy"
	"cnquant/internal/util"
)

// Single backtests one strategy on one series.
type Single struct {
	series   *kline.Series
	strategy strategy.Strategy
	costs    Costs
	log      *slog.Logger
}

// NewSingle creates a single-asset backtest. A nil logger uses
// slog.Default().
func NewSingle(series *kline.Series, s strategy.Strategy, costs Costs, log *slog.Logger) *Single {
	return &Single{
		series:   series,
		strategy: s,
		costs:    costs,
		log:      util.OrDefault(log),
	}
}

// Run replays the strategy over the series' active window. Every call starts
// from a net value of 1; an error discards the partial result.
//
// Each day the strategy is first asked whether it exists. If not, the day
// records a zero return and no holding. Otherwise the day's return follows
// from the current and previous holding state, and then the opposite signal
// (sell while holding, buy while not) decides the next day's state.
func (b *Single) Run(ctx context.Context) (*Result, error) {
	dates := b.series.Dates()
	if len(dates) == 0 {
		return nil, fmt.Errorf("backtest %s on %s: empty window: %w",
			b.strategy.Name(), b.series.Symbol(), domain.ErrInsufficientData)
	}
	if err := strategy.Init(b.strategy, map[string]*kline.Series{b.series.Symbol(): b.series}); err != nil {
		return nil, err
	}

	b.log.Info("backtest started",
		"kind", KindSingle, "strategy", b.strategy.Name(), "symbol", b.series.Symbol(),
		"days", len(dates))

	res := &Result{
		Kind:     KindSingle,
		Strategy: b.strategy.Name(),
		Target:   b.series.Symbol(),
		Rows:     make([]Row, 0, len(dates)),
	}

	var (
		netValue = 1.0
		holding  bool
		heldPrev bool // yesterday's hold flag
	)
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !b.strategy.Signal(strategy.Exists, b.series, date) {
			res.Rows = append(res.Rows, Row{Date: date, NetValue: netValue})
			heldPrev = false
			continue
		}

		i, _ := b.series.Position(date)
		bar := b.series.Bar(i)
		var ret float64
		hold := 0

		if holding {
			if heldPrev {
				prev := b.series.Bar(i - 1).Close
				ret = (bar.Close - prev) / prev
			} else {
				ret = b.costs.buyReturn(bar.Open, bar.Close)
			}
			netValue *= 1 + ret
			hold = 1
			if b.strategy.Signal(strategy.Sell, b.series, date) {
				holding = false
			}
		} else {
			if heldPrev {
				ret = b.costs.sellReturn(b.series.Bar(i-1).Close, bar.Open)
				netValue *= 1 + ret
			}
			if b.strategy.Signal(strategy.Buy, b.series, date) {
				holding = true
			}
		}

		res.Rows = append(res.Rows, Row{Date: date, NetValue: netValue, DailyReturn: ret, Hold: hold})
		heldPrev = hold == 1
	}

	b.log.Info("backtest finished",
		"kind", KindSingle, "strategy", b.strategy.Name(), "symbol", b.series.Symbol(),
		"net_value", netValue)
	return res, nil
}
