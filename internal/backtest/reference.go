package backtest

import (
	"fmt"
	"sort"
	"time"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
)

// ReferenceReturn is the buy-and-hold net value of ref over the span of a
// run: the close of its last bar within [dates[0], dates[len-1]] divided by
// the open of its first. The whole series of ref is searched, whatever its
// active window.
func ReferenceReturn(ref *kline.Series, dates []time.Time) (float64, error) {
	if len(dates) == 0 {
		return 0, fmt.Errorf("reference %s: no run dates: %w", ref.Symbol(), domain.ErrInsufficientData)
	}
	first, last := domain.Day(dates[0]), domain.Day(dates[len(dates)-1])

	bars := ref.Bars()
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(first) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(last) })
	if hi <= lo {
		return 0, fmt.Errorf("reference %s: no bars from %s to %s: %w",
			ref.Symbol(), first.Format("2006-01-02"), last.Format("2006-01-02"), domain.ErrInsufficientData)
	}
	return bars[hi-1].Close / bars[lo].Open, nil
}
