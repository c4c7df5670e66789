// Package screen picks stocks whose stored financial statements satisfy
// indicator conditions over their latest annual reports, producing the
// member list of a stock pool.
package screen

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"cnquant/internal/domain"
	"cnquant/internal/store"
	"cnquant/internal/util"
)

// Condition compares one statement item against a threshold, e.g. roe>20.
type Condition struct {
	Item  string
	Op    string
	Value float64
}

// ops are tried longest first so ">=" is not read as ">".
var ops = []string{">=", "<=", "==", "!=", ">", "<"}

// ParseCondition parses "item<op>value" with op one of > >= < <= == !=.
func ParseCondition(s string) (Condition, error) {
	s = strings.TrimSpace(s)
	for _, op := range ops {
		i := strings.Index(s, op)
		if i <= 0 {
			continue
		}
		item := strings.TrimSpace(s[:i])
		v, err := strconv.ParseFloat(strings.TrimSpace(s[i+len(op):]), 64)
		if err != nil {
			return Condition{}, fmt.Errorf("condition %q: bad value: %w", s, domain.ErrConfiguration)
		}
		return Condition{Item: item, Op: op, Value: v}, nil
	}
	return Condition{}, fmt.Errorf("condition %q: want item<op>value: %w", s, domain.ErrConfiguration)
}

// Match reports whether v satisfies the condition. NaN never does.
func (c Condition) Match(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	switch c.Op {
	case ">":
		return v > c.Value
	case ">=":
		return v >= c.Value
	case "<":
		return v < c.Value
	case "<=":
		return v <= c.Value
	case "==":
		return v == c.Value
	case "!=":
		return v != c.Value
	}
	return false
}

func (c Condition) String() string {
	return c.Item + c.Op + strconv.FormatFloat(c.Value, 'f', -1, 64)
}

// Rule selects the statement, its conditions and the years checked.
type Rule struct {
	Kind       domain.StatementKind
	Conditions []Condition

	// Years is the number of annual reports checked. They are the latest
	// years present across all screened symbols, excluding the most recent
	// one, which may still be incomplete.
	Years int

	// MinYears is how many of those years must satisfy every condition.
	// Zero means all of them.
	MinYears int
}

// Screener applies rules to statements from a StatementStore.
type Screener struct {
	src store.StatementStore
	log *slog.Logger
}

// New creates a Screener. A nil logger uses slog.Default().
func New(src store.StatementStore, log *slog.Logger) *Screener {
	return &Screener{src: src, log: util.OrDefault(log)}
}

// Screen returns the symbols, in input order, meeting rule. Symbols without
// the statement are skipped.
func (s *Screener) Screen(ctx context.Context, symbols []string, rule Rule) ([]string, error) {
	if rule.Years < 1 || len(rule.Conditions) == 0 {
		return nil, fmt.Errorf("screen: need at least one year and one condition: %w", domain.ErrConfiguration)
	}
	need := rule.MinYears
	if need <= 0 || need > rule.Years {
		need = rule.Years
	}

	annual := make(map[string]map[int]map[string]float64, len(symbols))
	years := make(map[int]bool)
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := s.src.ReadStatement(ctx, sym, rule.Kind)
		if err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		byYear := make(map[int]map[string]float64)
		for _, row := range rows {
			year, ok := annualYear(row.Period)
			if !ok {
				continue
			}
			byYear[year] = row.Values
			years[year] = true
		}
		annual[sym] = byYear
	}

	window := latestYears(years, rule.Years)
	if len(window) < rule.Years {
		return nil, fmt.Errorf("screen %s: %d complete years, need %d: %w",
			rule.Kind, len(window), rule.Years, domain.ErrInsufficientData)
	}

	var picked []string
	for _, sym := range symbols {
		byYear, ok := annual[sym]
		if !ok {
			continue
		}
		hits := 0
		for _, y := range window {
			if values, ok := byYear[y]; ok && matchAll(rule.Conditions, values) {
				hits++
			}
		}
		if hits >= need {
			picked = append(picked, sym)
		}
	}

	s.log.Info("screen finished", "kind", rule.Kind, "years", window,
		"screened", len(annual), "picked", len(picked))
	return picked, nil
}

func matchAll(conds []Condition, values map[string]float64) bool {
	for _, c := range conds {
		v, ok := values[c.Item]
		if !ok || !c.Match(v) {
			return false
		}
	}
	return true
}

// annualYear returns the year of a year-end period ("2016-12-31", "2016").
func annualYear(period string) (int, bool) {
	switch {
	case len(period) == 4:
	case len(period) == 10 && strings.HasSuffix(period, "-12-31"):
	default:
		return 0, false
	}
	y, err := strconv.Atoi(period[:4])
	return y, err == nil
}

// latestYears returns up to n years before the most recent one, ascending.
func latestYears(years map[int]bool, n int) []int {
	all := make([]int, 0, len(years))
	for y := range years {
		all = append(all, y)
	}
	sort.Ints(all)
	if len(all) == 0 {
		return nil
	}
	all = all[:len(all)-1]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
