package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateRange is an inclusive range of calendar days. A zero Start or End
// leaves that side unbounded.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the day of t lies within r.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	if !r.Start.IsZero() && d.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && d.After(r.End) {
		return false
	}
	return true
}

// IsOpen reports whether neither bound is set.
func (r DateRange) IsOpen() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

func (r DateRange) String() string {
	return formatBound(r.Start) + ":" + formatBound(r.End)
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// ParseDateRange parses "start:end". Each side may be empty or one of YYYY,
// YYYYMM, YYYY-MM, YYYYMMDD, YYYY-MM-DD. A partial end bound covers its whole
// year or month, so "2012:2016" runs through 2016-12-31.
func ParseDateRange(s string) (DateRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateRange{}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return DateRange{}, fmt.Errorf("date range %q: want start:end: %w", s, ErrConfiguration)
	}

	start, err := parseBound(parts[0], false)
	if err != nil {
		return DateRange{}, fmt.Errorf("date range %q: %w", s, err)
	}
	end, err := parseBound(parts[1], true)
	if err != nil {
		return DateRange{}, fmt.Errorf("date range %q: %w", s, err)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return DateRange{}, fmt.Errorf("date range %q: end before start: %w", s, ErrConfiguration)
	}
	return DateRange{Start: start, End: end}, nil
}

func parseBound(s string, end bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	digits := strings.NewReplacer("-", "", "/", "").Replace(s)
	for _, c := range digits {
		if c < '0' || c > '9' {
			return time.Time{}, fmt.Errorf("bad bound %q: %w", s, ErrConfiguration)
		}
	}

	var (
		t   time.Time
		err error
	)
	switch len(digits) {
	case 4:
		t, err = time.Parse("2006", digits)
		if end {
			t = t.AddDate(1, 0, -1)
		}
	case 6:
		t, err = time.Parse("200601", digits)
		if end {
			t = t.AddDate(0, 1, -1)
		}
	case 8:
		t, err = time.Parse("20060102", digits)
	default:
		return time.Time{}, fmt.Errorf("bad bound %q: %w", s, ErrConfiguration)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("bad bound %q: %w", s, ErrConfiguration)
	}
	return t, nil
}
