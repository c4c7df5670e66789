package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/strategy"
	"cnquant/internal/util"
)

// Pool is a named, ordered list of symbols.
type Pool struct {
	Name    string
	Symbols []string
}

// Portfolio backtests one strategy over every symbol of a set of pools with
// shared cash. Positions are fractions of the portfolio net value.
type Portfolio struct {
	pools    []Pool
	symbols  []string // processing order, each symbol once
	series   map[string]*kline.Series
	strategy strategy.Strategy
	costs    Costs
	sizer    Sizer
	log      *slog.Logger
}

// PortfolioOption customises a Portfolio.
type PortfolioOption func(*Portfolio)

// WithSizer replaces the default ten-slot position sizing.
func WithSizer(s Sizer) PortfolioOption {
	return func(p *Portfolio) { p.sizer = s }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) PortfolioOption {
	return func(p *Portfolio) { p.log = util.OrDefault(l) }
}

// NewPortfolio creates a portfolio backtest. series must hold a loaded
// series for every pool member. A symbol listed more than once, in one pool
// or across pools, is traded once at its first position.
func NewPortfolio(pools []Pool, series map[string]*kline.Series, s strategy.Strategy, costs Costs, opts ...PortfolioOption) (*Portfolio, error) {
	p := &Portfolio{
		pools:    pools,
		series:   series,
		strategy: s,
		costs:    costs,
		sizer:    DefaultSizer(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	seen := make(map[string]bool)
	for _, pool := range pools {
		for _, sym := range pool.Symbols {
			if seen[sym] {
				continue
			}
			if series[sym] == nil {
				return nil, fmt.Errorf("pool %s: no series for %s: %w", pool.Name, sym, domain.ErrNotFound)
			}
			seen[sym] = true
			p.symbols = append(p.symbols, sym)
		}
	}
	return p, nil
}

// Symbols returns the traded symbols in processing order.
func (p *Portfolio) Symbols() []string { return p.symbols }

// Dates returns the sorted union of the members' active windows.
func (p *Portfolio) Dates() []time.Time {
	lists := make([][]time.Time, 0, len(p.symbols))
	for _, sym := range p.symbols {
		lists = append(lists, p.series[sym].Dates())
	}
	return util.UnionDates(lists...)
}

func (p *Portfolio) target() string {
	names := make([]string, len(p.pools))
	for i, pool := range p.pools {
		names[i] = pool.Name
	}
	return strings.Join(names, ",")
}

// portfolioState is the bookkeeping of one run.
type portfolioState struct {
	netValue float64
	cash     float64
	want     map[string]bool    // symbols the strategy wants held today
	prev     map[string]float64 // yesterday's positions
	cur      map[string]float64 // today's positions
	delta    float64            // today's net value change
}

// Run replays the strategy over the trading days. Every call starts from a
// net value of 1 held entirely in cash; an error discards the partial result.
func (p *Portfolio) Run(ctx context.Context) (*Result, error) {
	dates := p.Dates()
	if len(dates) == 0 {
		return nil, fmt.Errorf("portfolio %s: no trading days: %w", p.target(), domain.ErrInsufficientData)
	}
	members := make(map[string]*kline.Series, len(p.symbols))
	for _, sym := range p.symbols {
		members[sym] = p.series[sym]
	}
	if err := strategy.Init(p.strategy, members); err != nil {
		return nil, err
	}

	p.log.Info("backtest started",
		"kind", KindPortfolio, "strategy", p.strategy.Name(), "pools", p.target(),
		"symbols", len(p.symbols), "days", len(dates))

	res := &Result{
		Kind:     KindPortfolio,
		Strategy: p.strategy.Name(),
		Target:   p.target(),
		Rows:     make([]Row, 0, len(dates)),
	}
	st := &portfolioState{
		netValue: 1,
		cash:     1,
		want:     make(map[string]bool),
		prev:     make(map[string]float64),
	}

	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		st.cur = make(map[string]float64, len(st.prev))
		st.delta = 0
		for _, sym := range p.symbols {
			p.step(st, sym, date)
		}

		navPrev := st.netValue
		st.netValue += st.delta
		res.Rows = append(res.Rows, Row{
			Date:        date,
			NetValue:    st.netValue,
			DailyReturn: st.delta / navPrev,
			CashHeld:    st.cash,
			StockHeld:   st.cur,
		})
		st.prev = st.cur
	}

	p.log.Info("backtest finished",
		"kind", KindPortfolio, "strategy", p.strategy.Name(), "pools", p.target(),
		"net_value", st.netValue, "cash", st.cash, "positions", len(st.prev))
	return res, nil
}

// step advances one symbol by one day.
func (p *Portfolio) step(st *portfolioState, sym string, date time.Time) {
	ks := p.series[sym]
	held, wasHeld := st.prev[sym]

	// Suspended, outside the window, or nothing to decide: keep the
	// position as it was.
	if !ks.InWindow(date) || !p.strategy.Signal(strategy.Exists, ks, date) {
		if wasHeld {
			st.cur[sym] = held
		}
		return
	}

	i, _ := ks.Position(date)
	bar := ks.Bar(i)
	prevClose := bar.Open
	if i > 0 {
		prevClose = ks.Bar(i - 1).Close
	}

	if st.want[sym] {
		if wasHeld {
			p.hold(st, sym, held, prevClose, bar.Close)
		} else {
			unit := p.sizer.Unit(st.netValue)
			if lessCash(st.cash, unit) && !p.fills(SideBuy, bar, prevClose, i) {
				delete(st.want, sym)
				p.log.Debug("buy abandoned", "symbol", sym, "date", date, "cash", st.cash, "unit", unit)
				return
			}
			st.cash -= unit
			ret := p.costs.buyReturn(bar.Open, bar.Close)
			st.delta += ret * unit
			st.cur[sym] = unit * (1 + ret)
		}
		if p.strategy.Signal(strategy.Sell, ks, date) {
			delete(st.want, sym)
		}
		return
	}

	if wasHeld {
		if !p.fills(SideSell, bar, prevClose, i) {
			// Locked limit down: keep holding and try again tomorrow.
			p.hold(st, sym, held, prevClose, bar.Close)
			p.log.Debug("sell failed", "symbol", sym, "date", date)
		} else {
			ret := p.costs.sellReturn(prevClose, bar.Open)
			st.delta += ret * held
			st.cash += (1 + ret) * held
		}
	}
	if p.strategy.Signal(strategy.Buy, ks, date) {
		st.want[sym] = true
	}
}

// hold reprices a position carried through the day.
func (p *Portfolio) hold(st *portfolioState, sym string, held, prevClose, close float64) {
	ret := (close - prevClose) / prevClose
	st.delta += ret * held
	st.cur[sym] = held * (1 + ret)
}

// fills applies DealSuccess; the first bar of a series has no previous close
// and always fills.
func (p *Portfolio) fills(side Side, bar domain.Bar, prevClose float64, i int) bool {
	if i == 0 {
		return true
	}
	return DealSuccess(side, bar.High, bar.Low, prevClose)
}
