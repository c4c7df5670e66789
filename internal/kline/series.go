// Package kline holds one symbol's daily price history together with the
// derived indicators computed from it: moving averages, rolling standard
// deviation, true range, support/resistance extrema and CAPM beta.
//
// A Series keeps two views of its bars. The whole series is immutable once
// constructed and feeds every indicator; the active window is a sub-range of
// it that backtests iterate over. Indicators are aligned to the whole series
// and use NaN for undefined values.
package kline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cnquant/internal/domain"
	"cnquant/internal/store"
	"cnquant/internal/util"
)

// Series is one symbol's daily bars plus a lazily filled indicator cache.
// It is safe for concurrent use.
type Series struct {
	symbol string
	bars   []domain.Bar
	dates  []time.Time
	index  map[time.Time]int

	// Active window as half-open positions [lo, hi) into bars.
	window    domain.DateRange
	windowSet bool
	lo, hi    int

	mu           sync.Mutex
	cache        map[string][]float64
	beta         float64
	marketReturn float64
}

// New builds a Series from bars in any order. Dates are normalised to their
// calendar day; a repeated day is a configuration error.
func New(symbol string, bars []domain.Bar) (*Series, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("series %s: no bars: %w", symbol, domain.ErrInsufficientData)
	}

	sorted := make([]domain.Bar, len(bars))
	copy(sorted, bars)
	for i := range sorted {
		sorted[i].Date = domain.Day(sorted[i].Date)
		if sorted[i].Symbol == "" {
			sorted[i].Symbol = symbol
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	s := &Series{
		symbol: symbol,
		bars:   sorted,
		dates:  make([]time.Time, len(sorted)),
		index:  make(map[time.Time]int, len(sorted)),
		hi:     len(sorted),
		cache:  make(map[string][]float64),
	}
	for i, b := range sorted {
		if _, dup := s.index[b.Date]; dup {
			return nil, fmt.Errorf("series %s: duplicate bar on %s: %w",
				symbol, b.Date.Format("2006-01-02"), domain.ErrConfiguration)
		}
		s.dates[i] = b.Date
		s.index[b.Date] = i
	}
	return s, nil
}

// Load reads the symbol's complete history from r.
func Load(ctx context.Context, r store.BarReader, kind domain.SeriesKind, symbol string) (*Series, error) {
	bars, err := r.ReadBars(ctx, kind, symbol, domain.DateRange{})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", symbol, err)
	}
	return New(symbol, bars)
}

// Symbol returns the series' symbol.
func (s *Series) Symbol() string { return s.symbol }

// Len returns the number of bars in the whole series.
func (s *Series) Len() int { return len(s.bars) }

// Bars returns the whole series. The slice must not be modified.
func (s *Series) Bars() []domain.Bar { return s.bars }

// Bar returns the bar at whole-series position i.
func (s *Series) Bar(i int) domain.Bar { return s.bars[i] }

// RestrictWindow narrows the active window to the days within r. It may be
// called once per Series; the whole series and the indicator cache are left
// untouched.
func (s *Series) RestrictWindow(r domain.DateRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.windowSet {
		return fmt.Errorf("series %s: window already set to %s: %w", s.symbol, s.window, domain.ErrConfiguration)
	}
	lo, hi := 0, len(s.dates)
	if !r.Start.IsZero() {
		lo = sort.Search(len(s.dates), func(i int) bool { return !s.dates[i].Before(r.Start) })
	}
	if !r.End.IsZero() {
		hi = sort.Search(len(s.dates), func(i int) bool { return s.dates[i].After(r.End) })
	}
	if hi < lo {
		hi = lo
	}
	s.window, s.windowSet = r, true
	s.lo, s.hi = lo, hi
	return nil
}

// Window returns the range the active window was restricted to. An open
// range means the whole series.
func (s *Series) Window() domain.DateRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window
}

// Dates returns the dates of the active window in ascending order. The slice
// must not be modified.
func (s *Series) Dates() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dates[s.lo:s.hi]
}

// WindowBars returns the bars of the active window.
func (s *Series) WindowBars() []domain.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bars[s.lo:s.hi]
}

// Position returns the whole-series position of the bar dated date.
func (s *Series) Position(date time.Time) (int, bool) {
	i, ok := s.index[domain.Day(date)]
	return i, ok
}

// InWindow reports whether the series has a bar on date inside the active
// window.
func (s *Series) InWindow(date time.Time) bool {
	i, ok := s.Position(date)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return i >= s.lo && i < s.hi
}

// YearsSpanned returns the fractional years covered by the active window.
func (s *Series) YearsSpanned() float64 {
	dates := s.Dates()
	if len(dates) == 0 {
		return 0
	}
	return util.YearFraction(dates[0], dates[len(dates)-1])
}

// cached returns the indicator stored under key, computing it with fn on
// first use.
func (s *Series) cached(key string, fn func() []float64) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache[key]; ok {
		return v
	}
	v := fn()
	s.cache[key] = v
	return v
}

// cachedKeys returns the keys of the indicators computed so far, sorted.
func (s *Series) cachedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.cache))
	for k := range s.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
