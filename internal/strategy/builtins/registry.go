package builtins

import (
	"cnquant/internal/config"
	"cnquant/internal/strategy"
)

// NewRegistry returns a registry holding every built-in strategy, configured
// from cfg.
func NewRegistry(cfg *config.Config) (*strategy.Registry, error) {
	bollinger, err := NewBollingerBreakout(cfg.Strategies.Bollinger.Window, cfg.Strategies.Bollinger.Scale)
	if err != nil {
		return nil, err
	}
	dualMA, err := NewDualMA(cfg.Strategies.DualMA.Fast, cfg.Strategies.DualMA.Slow)
	if err != nil {
		return nil, err
	}
	extremum, err := NewExtremumContrary(cfg.Indicators.SupportWindow, cfg.Indicators.ResistanceWindow)
	if err != nil {
		return nil, err
	}

	r := strategy.NewRegistry()
	r.Register(NewHolding())
	r.Register(NewRandom(cfg.Strategies.Random.Seed))
	r.Register(bollinger)
	r.Register(dualMA)
	r.Register(extremum)
	return r, nil
}
