package backtest

import (
	"fmt"

	"cnquant/internal/domain"
)

// Sizer decides how much NAV a new portfolio position takes.
type Sizer interface {
	// Unit returns the position value for a buy given the previous day's
	// net value.
	Unit(netValue float64) float64
}

// EqualSlots splits the net value into a fixed number of equal slots.
type EqualSlots struct {
	Slots int
}

// DefaultSizer gives every position a tenth of the net value.
func DefaultSizer() EqualSlots {
	return EqualSlots{Slots: 10}
}

// NewEqualSlots creates an EqualSlots sizer with n slots.
func NewEqualSlots(n int) (EqualSlots, error) {
	if n < 1 {
		return EqualSlots{}, fmt.Errorf("position slots %d must be positive: %w", n, domain.ErrConfiguration)
	}
	return EqualSlots{Slots: n}, nil
}

// Unit returns netValue / Slots.
func (s EqualSlots) Unit(netValue float64) float64 {
	return netValue / float64(s.Slots)
}
