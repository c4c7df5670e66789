// Package perf computes performance statistics of a realised net value
// series: drawdown, drawdown duration, CAGR and Sharpe ratio.
package perf

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"cnquant/internal/domain"
	"cnquant/internal/util"
)

const (
	// ReferenceReturn is the annual return the Sharpe ratio is measured
	// against.
	ReferenceReturn = 0.04
	// TradeDaysPerYear annualises the daily return deviation.
	TradeDaysPerYear = 245
)

// Measure holds one run's chronological net values and daily returns.
type Measure struct {
	dates   []time.Time
	nav     []float64
	returns []float64
}

// New validates the three aligned series. They are not copied.
func New(dates []time.Time, netValues, dailyReturns []float64) (*Measure, error) {
	if len(dates) == 0 {
		return nil, fmt.Errorf("performance of empty series: %w", domain.ErrInsufficientData)
	}
	if len(netValues) != len(dates) || len(dailyReturns) != len(dates) {
		return nil, fmt.Errorf("performance series lengths %d/%d/%d differ: %w",
			len(dates), len(netValues), len(dailyReturns), domain.ErrInsufficientData)
	}
	return &Measure{dates: dates, nav: netValues, returns: dailyReturns}, nil
}

// Drawdown is a peak-to-trough decline.
type Drawdown struct {
	Value  float64
	Peak   time.Time // high-water date
	Trough time.Time // day the decline was observed
}

// Duration is a run of consecutive days below the high-water mark.
type Duration struct {
	Days  int
	Start time.Time // high-water date the run started from
	End   time.Time
}

// Summary bundles the scalar statistics of a run.
type Summary struct {
	FinalNetValue       float64
	YearsSpanned        float64
	CAGR                float64
	SharpeRatio         float64
	MaxDrawdown         Drawdown
	MaxDrawdownDuration Duration
}

// YearsSpanned returns the fractional years from the first to the last date.
func (m *Measure) YearsSpanned() float64 {
	return util.YearFraction(m.dates[0], m.dates[len(m.dates)-1])
}

// FinalNetValue returns the last net value.
func (m *Measure) FinalNetValue() float64 {
	return m.nav[len(m.nav)-1]
}

// CAGR returns the compound annual growth rate of the final net value. A run
// spanning zero years follows math.Pow: +Inf growth above 1, -1 below.
func (m *Measure) CAGR() float64 {
	return math.Pow(m.FinalNetValue(), 1/m.YearsSpanned()) - 1
}

// SharpeRatio returns the CAGR in excess of ReferenceReturn over the
// annualised population deviation of daily returns.
func (m *Measure) SharpeRatio() float64 {
	std := math.Sqrt(stat.PopVariance(m.returns, nil))
	return (m.CAGR() - ReferenceReturn) / (std * math.Sqrt(TradeDaysPerYear))
}

// MaxDrawdown scans the net values against the running high-water mark and
// returns the deepest decline. Ties keep the first occurrence; a series that
// never declines reports zero with zero dates.
func (m *Measure) MaxDrawdown() Drawdown {
	var (
		best     Drawdown
		high     float64
		highDate time.Time
	)
	for i, v := range m.nav {
		if v > high {
			high, highDate = v, m.dates[i]
			continue
		}
		if dd := 1 - v/high; dd > best.Value {
			best = Drawdown{Value: dd, Peak: highDate, Trough: m.dates[i]}
		}
	}
	return best
}

// MaxDrawdownDuration returns the longest run of days strictly below the
// high-water mark. A day at or above the mark ends the run and raises the
// mark.
func (m *Measure) MaxDrawdownDuration() Duration {
	var (
		best     Duration
		run      int
		high     float64
		highDate time.Time
	)
	for i, v := range m.nav {
		if v >= high {
			run, high, highDate = 0, v, m.dates[i]
			continue
		}
		run++
		if run > best.Days {
			best = Duration{Days: run, Start: highDate, End: m.dates[i]}
		}
	}
	return best
}

// Summary computes every statistic.
func (m *Measure) Summary() Summary {
	return Summary{
		FinalNetValue:       m.FinalNetValue(),
		YearsSpanned:        m.YearsSpanned(),
		CAGR:                m.CAGR(),
		SharpeRatio:         m.SharpeRatio(),
		MaxDrawdown:         m.MaxDrawdown(),
		MaxDrawdownDuration: m.MaxDrawdownDuration(),
	}
}
