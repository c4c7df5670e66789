// Package gather moves market data from where it was downloaded into the
// stores the backtesting engine reads.
package gather

import (
	"context"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs the gathering. It returns when the work is done or ctx is
	// cancelled.
	Run(ctx context.Context) error
}
