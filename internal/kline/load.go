package kline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"cnquant/internal/domain"
	"cnquant/internal/store"
)

// LoadMany loads the symbols concurrently with at most workers readers in
// flight and restricts each series to window. Results are in symbol order.
// The first failure cancels the remaining loads.
func LoadMany(ctx context.Context, r store.BarReader, kind domain.SeriesKind, symbols []string, window domain.DateRange, workers int) ([]*Series, error) {
	out := make([]*Series, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			s, err := Load(gctx, r, kind, sym)
			if err != nil {
				return err
			}
			if !window.IsOpen() {
				if err := s.RestrictWindow(window); err != nil {
					return err
				}
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
