package kline

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// Returned indicator slices are shared with the cache and must not be
// modified by callers.

// MA returns the trailing n-day moving average of close.
func (s *Series) MA(n int) []float64 {
	return s.cached("MA"+strconv.Itoa(n), func() []float64 {
		return rolling(s.closes(), n, func(w []float64) float64 {
			return stat.Mean(w, nil)
		})
	})
}

// StdDev returns the trailing n-day sample standard deviation of close.
func (s *Series) StdDev(n int) []float64 {
	return s.cached("STD"+strconv.Itoa(n), func() []float64 {
		return rolling(s.closes(), n, func(w []float64) float64 {
			return stat.StdDev(w, nil)
		})
	})
}

// TrueRange returns the day's range extended to the previous close. The
// first bar has no previous close and is undefined.
func (s *Series) TrueRange() []float64 {
	return s.cached("TR", s.trueRange)
}

func (s *Series) trueRange() []float64 {
	out := nanSlice(len(s.bars))
	for i := 1; i < len(s.bars); i++ {
		b, prev := s.bars[i], s.bars[i-1].Close
		out[i] = math.Max(math.Abs(b.High-b.Low),
			math.Max(math.Abs(b.Low-prev), math.Abs(b.High-prev)))
	}
	return out
}

// ATR returns the trailing n-day mean of the true range.
func (s *Series) ATR(n int) []float64 {
	tr := s.TrueRange()
	return s.cached("ATR"+strconv.Itoa(n), func() []float64 {
		return rolling(tr, n, func(w []float64) float64 {
			return stat.Mean(w, nil)
		})
	})
}

// Support marks each day whose low is the minimum of the centered window
// [i-w, i+w]. Other days, and days too close to either end for the full
// window, are NaN.
func (s *Series) Support(w int) []float64 {
	return s.cached("support"+strconv.Itoa(w), func() []float64 {
		lows := make([]float64, len(s.bars))
		for i, b := range s.bars {
			lows[i] = b.Low
		}
		return extrema(lows, w, math.Min)
	})
}

// Resistance marks each day whose high is the maximum of the centered window
// [i-w, i+w].
func (s *Series) Resistance(w int) []float64 {
	return s.cached("resistance"+strconv.Itoa(w), func() []float64 {
		highs := make([]float64, len(s.bars))
		for i, b := range s.bars {
			highs[i] = b.High
		}
		return extrema(highs, w, math.Max)
	})
}

func (s *Series) closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close
	}
	return out
}

// rolling applies fn to every trailing window of n values. Positions before
// the first full window, and windows holding a NaN, are NaN.
func rolling(values []float64, n int, fn func([]float64) float64) []float64 {
	out := nanSlice(len(values))
	if n < 1 {
		return out
	}
	for i := n - 1; i < len(values); i++ {
		w := values[i-n+1 : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = fn(w)
	}
	return out
}

// extrema keeps values[i] where it equals pick over the centered window of
// half-width w.
func extrema(values []float64, w int, pick func(a, b float64) float64) []float64 {
	out := nanSlice(len(values))
	if w < 0 {
		return out
	}
	for i := w; i+w < len(values); i++ {
		window := values[i-w : i+w+1]
		if hasNaN(window) {
			continue
		}
		best := window[0]
		for _, v := range window[1:] {
			best = pick(best, v)
		}
		if values[i] == best {
			out[i] = values[i]
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func hasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
