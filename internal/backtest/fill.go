// Package backtest replays a strategy day by day over one series or over a
// pool of series and records the resulting net value curve.
//
// Both drivers decide at the close and trade at the next open: a buy signal
// on day t opens the position at open[t+1], a sell signal closes it at
// open[t+1].
package backtest

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Costs are the proportional trading costs.
type Costs struct {
	Brokerage float64 // paid on both buys and sells
	StampDuty float64 // paid on sells only
}

// DefaultCosts returns 0.1% brokerage and 0.1% stamp duty.
func DefaultCosts() Costs {
	return Costs{Brokerage: 0.001, StampDuty: 0.001}
}

// buyReturn is the day's return of a position bought at the open.
func (c Costs) buyReturn(open, close float64) float64 {
	return close/open/(1+c.Brokerage) - 1
}

// sellReturn is the day's return of a position sold at the open.
func (c Costs) sellReturn(prevClose, open float64) float64 {
	return open/prevClose*(1-c.Brokerage-c.StampDuty) - 1
}

// Side is the direction of an order.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// DealSuccess reports whether an order at the open can fill. A day whose high
// equals its low traded at a single locked price: a sell cannot fill when it
// is locked below the previous close (limit down) and a buy cannot fill when
// it is locked above it (limit up).
func DealSuccess(side Side, high, low, prevClose float64) bool {
	if high != low {
		return true
	}
	switch side {
	case SideSell:
		return !(high < prevClose)
	default:
		return !(high > prevClose)
	}
}

// lessCash compares two NAV fractions at 12 significant digits so that
// accumulated float error does not decide whether a position fits.
func lessCash(a, b float64) bool {
	return cashDecimal(a).LessThan(cashDecimal(b))
}

func cashDecimal(v float64) decimal.Decimal {
	d, err := decimal.NewFromString(strconv.FormatFloat(v, 'g', 12, 64))
	if err != nil {
		return decimal.NewFromFloat(v)
	}
	return d
}
