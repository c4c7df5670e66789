// Package strategy defines the Strategy interface for trading rules and
// provides a Registry for looking them up by name.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cnquant/internal/domain"
	"cnquant/internal/kline"
)

// Query is the question a backtest driver asks a strategy about one day.
type Query int

const (
	// Exists asks whether the strategy can decide anything on the day. The
	// drivers ask it before Buy or Sell; a false answer makes the day a no-op.
	Exists Query = iota
	// Buy asks whether to open a position at the next open.
	Buy
	// Sell asks whether to close a held position at the next open.
	Sell
)

func (q Query) String() string {
	switch q {
	case Exists:
		return "exists"
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("Query(%d)", int(q))
	}
}

// Strategy is the interface that all trading rules implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Signal answers q for series on date. It must not panic; comparisons
	// involving undefined indicator values answer false.
	Signal(q Query, series *kline.Series, date time.Time) bool
}

// Initializer is implemented by strategies that precompute per-symbol state.
// Drivers call Init once per run, before the first day, with every series the
// run will query.
type Initializer interface {
	Init(series map[string]*kline.Series) error
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Lookup is Get for callers that want an error naming the known strategies.
func (r *Registry) Lookup(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (have %s): %w",
			name, strings.Join(r.List(), ", "), domain.ErrConfiguration)
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Init runs s's initializer, if it has one.
func Init(s Strategy, series map[string]*kline.Series) error {
	if in, ok := s.(Initializer); ok {
		if err := in.Init(series); err != nil {
			return fmt.Errorf("initialising %s: %w", s.Name(), err)
		}
	}
	return nil
}
