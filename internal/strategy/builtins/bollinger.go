package builtins

import (
	"fmt"
	"math"
	"time"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*BollingerBreakout)(nil)

// BollingerBreakout buys when close breaks above the upper Bollinger band
// (MA + scale*STD) and sells when close drops below the moving average.
type BollingerBreakout struct {
	window int
	scale  float64
}

// NewBollingerBreakout creates a BollingerBreakout over window days with the
// band scale.
func NewBollingerBreakout(window int, scale float64) (*BollingerBreakout, error) {
	if window < 1 || scale < 0 || math.IsNaN(scale) {
		return nil, fmt.Errorf("bollinger-breakout window %d scale %v: %w", window, scale, domain.ErrConfiguration)
	}
	return &BollingerBreakout{window: window, scale: scale}, nil
}

// Name returns "bollinger-breakout".
func (s *BollingerBreakout) Name() string {
	return "bollinger-breakout"
}

// Signal answers q from the band on date and on the bar before it.
func (s *BollingerBreakout) Signal(q strategy.Query, series *kline.Series, date time.Time) bool {
	i, ok := series.Position(date)
	if !ok {
		return false
	}
	ma, sd := series.MA(s.window), series.StdDev(s.window)
	bars := series.Bars()
	prev := i - 1

	switch q {
	case strategy.Exists:
		return prev >= 0 && defined(ma[prev], sd[prev], bars[prev].Close)
	case strategy.Buy:
		return prev >= 0 &&
			bars[i].Close > ma[i]+s.scale*sd[i] &&
			bars[prev].Close <= ma[prev]+s.scale*sd[prev]
	case strategy.Sell:
		return bars[i].Close < ma[i]
	}
	return false
}

// defined reports whether none of vs is NaN.
func defined(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}
