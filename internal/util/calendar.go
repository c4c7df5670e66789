package util

import (
	"sort"
	"time"
)

// YearFraction returns the fractional number of years between two days as
// whole-year difference plus day-of-year difference over 365. It tolerates
// leap years only approximately.
func YearFraction(first, last time.Time) float64 {
	years := float64(last.Year() - first.Year())
	return years + float64(last.YearDay()-first.YearDay())/365.0
}

// MonthIndex returns a monotonically increasing month number for t, so that
// consecutive calendar months differ by exactly one.
func MonthIndex(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

// MonthEnd returns the last calendar day of the month with the given index.
func MonthEnd(index int) time.Time {
	year, month := index/12, time.Month(index%12+1)
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
}

// UnionDates merges several ascending date lists into one ascending list
// without duplicates.
func UnionDates(lists ...[]time.Time) []time.Time {
	seen := make(map[time.Time]struct{})
	var out []time.Time
	for _, dates := range lists {
		for _, d := range dates {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
