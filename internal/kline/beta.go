package kline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"cnquant/internal/domain"
	"cnquant/internal/util"
)

// monthReturns groups the active window by calendar month and returns the
// ratio of each month's last close to the previous month's. Months are
// contiguous from the first to the last; a month without bars, and the month
// after it, have NaN ratios. The first month is always NaN.
func (s *Series) monthReturns() (months []int, ratios []float64, err error) {
	bars := s.WindowBars()
	if len(bars) == 0 {
		return nil, nil, fmt.Errorf("%s: empty window: %w", s.symbol, domain.ErrInsufficientData)
	}

	first := util.MonthIndex(bars[0].Date)
	last := util.MonthIndex(bars[len(bars)-1].Date)
	if last-first+1 < 2 {
		return nil, nil, fmt.Errorf("%s: less than two months of data: %w", s.symbol, domain.ErrInsufficientData)
	}

	closes := nanSlice(last - first + 1)
	for _, b := range bars {
		closes[util.MonthIndex(b.Date)-first] = b.Close
	}

	months = make([]int, len(closes))
	ratios = nanSlice(len(closes))
	for i := range closes {
		months[i] = first + i
		if i > 0 {
			ratios[i] = closes[i] / closes[i-1]
		}
	}
	return months, ratios, nil
}

// Beta regresses this series' monthly returns on ref's over the months whose
// month end falls within r and returns the slope. Months where either return
// is undefined are dropped. The beta and the reference's annualised return
// over the same months replace the values memoised by the previous call.
func (s *Series) Beta(r domain.DateRange, ref *Series) (float64, error) {
	months, ratios, err := s.monthReturns()
	if err != nil {
		return math.NaN(), err
	}
	refMonths, refRatios, err := ref.monthReturns()
	if err != nil {
		return math.NaN(), err
	}
	refByMonth := make(map[int]float64, len(refMonths))
	for i, m := range refMonths {
		refByMonth[m] = refRatios[i]
	}

	var x, y []float64
	for i, m := range months {
		if !r.Contains(util.MonthEnd(m)) {
			continue
		}
		rv, ok := refByMonth[m]
		if !ok || math.IsNaN(rv) || math.IsNaN(ratios[i]) {
			continue
		}
		x = append(x, rv)
		y = append(y, ratios[i])
	}
	if len(x) < 2 {
		return math.NaN(), fmt.Errorf("%s vs %s over %s: %d usable months: %w",
			s.symbol, ref.symbol, r, len(x), domain.ErrInsufficientData)
	}

	_, beta := stat.LinearRegression(x, y, nil, false)

	prod := 1.0
	for _, v := range x {
		prod *= v
	}
	market := math.Pow(prod, 12/float64(len(x))) - 1

	s.mu.Lock()
	s.beta, s.marketReturn = beta, market
	s.mu.Unlock()
	return beta, nil
}

// MarketReturn returns the reference's annualised return memoised by the
// last Beta call.
func (s *Series) MarketReturn() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marketReturn
}

// RequiredReturn applies CAPM: rf + beta*(Rm - rf). Rm is expected when it is
// non-nil, otherwise the reference's historical return from the beta fit.
func (s *Series) RequiredReturn(rf float64, r domain.DateRange, ref *Series, expected *float64) (float64, error) {
	beta, err := s.Beta(r, ref)
	if err != nil {
		return math.NaN(), err
	}
	market := s.MarketReturn()
	if expected != nil {
		market = *expected
	}
	return rf + beta*(market-rf), nil
}
