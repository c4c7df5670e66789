package builtins

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy    = (*ExtremumContrary)(nil)
	_ strategy.Initializer = (*ExtremumContrary)(nil)
)

const (
	extremumLookback = 4
	supportMaxCV     = 0.08
	resistanceMaxCV  = 0.10
)

// ExtremumContrary trades against recent extremes: it buys when close sinks
// to the mean of the last four support points and sells when close rises
// above the mean of the last four resistance points, provided those points
// are tightly clustered.
//
// An extremum at bar j is only confirmed once bar j+window exists, so on bar
// i only points at positions up to i-window are used.
type ExtremumContrary struct {
	supportWindow    int
	resistanceWindow int

	mu     sync.Mutex
	points map[string]*extremumPoints
}

// extremumPoints holds the defined support and resistance points of one
// series in ascending position order.
type extremumPoints struct {
	supportPos    []int
	supportVal    []float64
	resistancePos []int
	resistanceVal []float64
}

// NewExtremumContrary creates the strategy with the centered window
// half-widths used to find support and resistance points.
func NewExtremumContrary(supportWindow, resistanceWindow int) (*ExtremumContrary, error) {
	if supportWindow < 1 || resistanceWindow < 1 {
		return nil, fmt.Errorf("extremum-contrary windows %d/%d must be positive: %w",
			supportWindow, resistanceWindow, domain.ErrConfiguration)
	}
	return &ExtremumContrary{
		supportWindow:    supportWindow,
		resistanceWindow: resistanceWindow,
		points:           make(map[string]*extremumPoints),
	}, nil
}

// Name returns "extremum-contrary".
func (s *ExtremumContrary) Name() string {
	return "extremum-contrary"
}

// Init collects the support and resistance points of every series.
func (s *ExtremumContrary) Init(series map[string]*kline.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, ks := range series {
		if ks == nil {
			continue
		}
		s.points[sym] = s.collect(ks)
	}
	return nil
}

func (s *ExtremumContrary) collect(ks *kline.Series) *extremumPoints {
	p := &extremumPoints{}
	p.supportPos, p.supportVal = definedPoints(ks.Support(s.supportWindow))
	p.resistancePos, p.resistanceVal = definedPoints(ks.Resistance(s.resistanceWindow))
	return p
}

// pointsFor returns the points of ks, collecting them if Init did not.
func (s *ExtremumContrary) pointsFor(ks *kline.Series) *extremumPoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[ks.Symbol()]
	if !ok {
		p = s.collect(ks)
		s.points[ks.Symbol()] = p
	}
	return p
}

// Signal answers q from the confirmed extrema before date.
func (s *ExtremumContrary) Signal(q strategy.Query, series *kline.Series, date time.Time) bool {
	i, ok := series.Position(date)
	if !ok {
		return false
	}
	p := s.pointsFor(series)
	support := lastVisible(p.supportPos, p.supportVal, i-s.supportWindow)
	resistance := lastVisible(p.resistancePos, p.resistanceVal, i-s.resistanceWindow)
	price := series.Bar(i).Close

	switch q {
	case strategy.Exists:
		return i >= s.supportWindow && i >= s.resistanceWindow &&
			len(support) >= extremumLookback && len(resistance) >= extremumLookback
	case strategy.Buy:
		mean, cv := meanCV(support)
		return price <= mean && cv < supportMaxCV
	case strategy.Sell:
		mean, cv := meanCV(resistance)
		return price > mean && cv < resistanceMaxCV
	}
	return false
}

func definedPoints(values []float64) ([]int, []float64) {
	var pos []int
	var val []float64
	for i, v := range values {
		if !math.IsNaN(v) {
			pos = append(pos, i)
			val = append(val, v)
		}
	}
	return pos, val
}

// lastVisible returns up to the last four values whose position is <= limit.
func lastVisible(pos []int, val []float64, limit int) []float64 {
	n := sort.SearchInts(pos, limit+1)
	start := n - extremumLookback
	if start < 0 {
		start = 0
	}
	return val[start:n]
}

// meanCV returns the mean and sample coefficient of variation of vs; both
// are NaN for fewer than two values.
func meanCV(vs []float64) (mean, cv float64) {
	if len(vs) < 2 {
		return math.NaN(), math.NaN()
	}
	mean, std := stat.MeanStdDev(vs, nil)
	return mean, std / mean
}
