package builtins

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnquant/internal/config"
	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/strategy"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dayN(i int) time.Time { return epoch.AddDate(0, 0, i) }

func seriesFromCloses(t *testing.T, closes []float64) *kline.Series {
	t.Helper()
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Date: dayN(i), Open: c, High: c, Low: c, Close: c}
	}
	s, err := kline.New("TEST", bars)
	require.NoError(t, err)
	return s
}

// signalDays returns the positions where q is true.
func signalDays(s strategy.Strategy, q strategy.Query, ks *kline.Series) []int {
	var days []int
	for i := 0; i < ks.Len(); i++ {
		if s.Signal(q, ks, dayN(i)) {
			days = append(days, i)
		}
	}
	return days
}

func TestHolding(t *testing.T) {
	ks := seriesFromCloses(t, []float64{1, 2})
	h := NewHolding()
	assert.True(t, h.Signal(strategy.Exists, ks, dayN(0)))
	assert.True(t, h.Signal(strategy.Buy, ks, dayN(0)))
	assert.False(t, h.Signal(strategy.Sell, ks, dayN(1)))
}

func TestRandomIsSeeded(t *testing.T) {
	ks := seriesFromCloses(t, []float64{1})
	a, b := NewRandom(42), NewRandom(42)

	var buys int
	for i := 0; i < 1000; i++ {
		x := a.Signal(strategy.Buy, ks, dayN(0))
		y := b.Signal(strategy.Buy, ks, dayN(0))
		require.Equal(t, x, y, "draw %d differs between equally seeded strategies", i)
		if x {
			buys++
		}
	}
	assert.InDelta(t, 500, buys, 100)
	assert.True(t, a.Signal(strategy.Exists, ks, dayN(0)))
}

// crossingCloses is flat at 10, steps to 20 on day 10 and back to 10 on day 20.
func crossingCloses() []float64 {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 10
		if i >= 10 && i < 20 {
			closes[i] = 20
		}
	}
	return closes
}

func TestDualMACrossing(t *testing.T) {
	ks := seriesFromCloses(t, crossingCloses())
	s, err := NewDualMA(2, 4)
	require.NoError(t, err)

	exists := signalDays(s, strategy.Exists, ks)
	require.NotEmpty(t, exists)
	assert.Equal(t, 4, exists[0], "both averages are first defined on day 3")

	assert.Equal(t, []int{10}, signalDays(s, strategy.Buy, ks))
	assert.Equal(t, []int{20, 21, 22}, signalDays(s, strategy.Sell, ks))
}

func TestDualMAUnknownDate(t *testing.T) {
	ks := seriesFromCloses(t, crossingCloses())
	s, err := NewDualMA(2, 4)
	require.NoError(t, err)
	assert.False(t, s.Signal(strategy.Exists, ks, dayN(100)))
}

func TestBollingerBreakout(t *testing.T) {
	ks := seriesFromCloses(t, []float64{10, 10, 10, 10, 13, 9, 10, 10})
	s, err := NewBollingerBreakout(3, 1)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4, 5, 6, 7}, signalDays(s, strategy.Exists, ks))
	assert.Equal(t, []int{4}, signalDays(s, strategy.Buy, ks))
	assert.Contains(t, signalDays(s, strategy.Sell, ks), 5)
	assert.NotContains(t, signalDays(s, strategy.Sell, ks), 4)
}

// zigzag is a triangle wave of period 8 with troughs at multiples of 8 and
// peaks four days later. Day 40 breaks below the troughs and day 44 above the
// peaks.
func zigzag(t *testing.T) *kline.Series {
	t.Helper()
	pattern := []float64{10, 11, 12, 13, 14, 13, 12, 11}
	bars := make([]domain.Bar, 50)
	for i := range bars {
		c := pattern[i%8]
		switch i {
		case 40:
			c = 9
		case 44:
			c = 15
		}
		bars[i] = domain.Bar{Date: dayN(i), Open: c, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	ks, err := kline.New("ZIG", bars)
	require.NoError(t, err)
	return ks
}

func TestExtremumContrary(t *testing.T) {
	ks := zigzag(t)
	s, err := NewExtremumContrary(2, 2)
	require.NoError(t, err)
	require.NoError(t, s.Init(map[string]*kline.Series{"ZIG": ks}))

	exists := signalDays(s, strategy.Exists, ks)
	require.NotEmpty(t, exists)
	// The fourth support (day 32) is confirmed on day 34.
	assert.Equal(t, 34, exists[0])
	for i := 0; i < 34; i++ {
		assert.False(t, s.Signal(strategy.Exists, ks, dayN(i)), "exists on day %d", i)
	}

	assert.Equal(t, []int{40}, signalDays(s, strategy.Buy, ks))
	assert.Equal(t, []int{44}, signalDays(s, strategy.Sell, ks))
}

func TestExtremumContraryNoLookAhead(t *testing.T) {
	ks := zigzag(t)
	s, err := NewExtremumContrary(5, 3)
	require.NoError(t, err)

	// Without Init the points are collected on first use.
	for i := 0; i < 5; i++ {
		assert.False(t, s.Signal(strategy.Exists, ks, dayN(i)), "exists on day %d", i)
	}
}

func TestConstructorsRejectBadParameters(t *testing.T) {
	_, err := NewDualMA(0, 5)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = NewBollingerBreakout(10, -1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = NewExtremumContrary(20, 0)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(config.Default())
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"bollinger-breakout", "dual-ma", "extremum-contrary", "holding", "random"},
		r.List())

	cfg := config.Default()
	cfg.Strategies.DualMA.Slow = 0
	_, err = NewRegistry(cfg)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
