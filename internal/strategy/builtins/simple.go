package builtins

import (
	"math/rand"
	"sync"
	"time"

	"cnquant/internal/kline"
	"cnquant/internal/strategy"
)

// Compile-time interface checks.
var (
	_ strategy.Strategy = (*Holding)(nil)
	_ strategy.Strategy = (*Random)(nil)
)

// Holding buys on the first day and never sells.
type Holding struct{}

// NewHolding creates a buy-and-hold strategy.
func NewHolding() *Holding { return &Holding{} }

// Name returns "holding".
func (*Holding) Name() string { return "holding" }

// Signal always exists, always buys and never sells.
func (*Holding) Signal(q strategy.Query, _ *kline.Series, _ time.Time) bool {
	return q != strategy.Sell
}

// Random answers buy and sell with independent coin flips. It serves as a
// baseline for the other strategies.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a Random strategy with a fixed seed so runs repeat.
func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

// Name returns "random".
func (*Random) Name() string { return "random" }

// Signal always exists; buy and sell are true when a uniform draw on
// [-1, 1) is positive.
func (s *Random) Signal(q strategy.Query, _ *kline.Series, _ time.Time) bool {
	if q == strategy.Exists {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()*2-1 > 0
}
