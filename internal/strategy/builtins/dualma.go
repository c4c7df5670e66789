// Package builtins provides the trading rules that ship with cnquant.
package builtins

import (
	"fmt"
	"time"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*DualMA)(nil)

// DualMA implements a moving average crossover strategy. It buys when the
// fast average crosses above the slow one and sells whenever the fast average
// is below the slow one.
type DualMA struct {
	fast int
	slow int
}

// NewDualMA creates a DualMA strategy with the given fast and slow periods.
func NewDualMA(fast, slow int) (*DualMA, error) {
	if fast < 1 || slow < 1 {
		return nil, fmt.Errorf("dual-ma periods %d/%d must be positive: %w", fast, slow, domain.ErrConfiguration)
	}
	return &DualMA{fast: fast, slow: slow}, nil
}

// Name returns "dual-ma".
func (s *DualMA) Name() string {
	return "dual-ma"
}

// Signal answers q from the two averages on date and on the bar before it.
func (s *DualMA) Signal(q strategy.Query, series *kline.Series, date time.Time) bool {
	i, ok := series.Position(date)
	if !ok {
		return false
	}
	fast, slow := series.MA(s.fast), series.MA(s.slow)
	prev := i - 1

	switch q {
	case strategy.Exists:
		return prev >= 0 && defined(fast[prev], slow[prev])
	case strategy.Buy:
		return prev >= 0 && fast[i] > slow[i] && fast[prev] <= slow[prev]
	case strategy.Sell:
		return fast[i] < slow[i]
	}
	return false
}
