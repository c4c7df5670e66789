package gather

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"cnquant/internal/domain"
	"cnquant/internal/store"
	"cnquant/internal/util"
)

// Compile-time interface checks.
var (
	_ Gatherer = (*BarImporter)(nil)
	_ Gatherer = (*StatementImporter)(nil)
)

// BarImporter copies every daily and index series from one bar source into a
// bar store, typically downloaded CSV files into the Parquet store.
type BarImporter struct {
	src     store.BarReader
	dst     store.BarStore
	workers int
	log     *slog.Logger
}

// NewBarImporter creates a BarImporter copying from src to dst with at most
// workers symbols in flight. A nil logger uses slog.Default().
func NewBarImporter(src store.BarReader, dst store.BarStore, workers int, log *slog.Logger) *BarImporter {
	return &BarImporter{src: src, dst: dst, workers: workers, log: util.OrDefault(log)}
}

// Name returns the gatherer identifier.
func (g *BarImporter) Name() string { return "cn-import-bars" }

// Run copies both series kinds. The first failing symbol stops the import.
func (g *BarImporter) Run(ctx context.Context) error {
	for _, kind := range []domain.SeriesKind{domain.KindDaily, domain.KindIndex} {
		if err := g.importKind(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

func (g *BarImporter) importKind(ctx context.Context, kind domain.SeriesKind) error {
	symbols, err := g.src.ListSymbols(ctx, kind)
	if err != nil {
		return fmt.Errorf("listing %s symbols: %w", kind, err)
	}

	var bars atomic.Int64
	eg, gctx := errgroup.WithContext(ctx)
	if g.workers > 0 {
		eg.SetLimit(g.workers)
	}
	for _, sym := range symbols {
		sym := sym
		eg.Go(func() error {
			data, err := g.src.ReadBars(gctx, kind, sym, domain.DateRange{})
			if err != nil {
				return fmt.Errorf("reading %s %s: %w", kind, sym, err)
			}
			if err := g.dst.WriteBars(gctx, kind, data); err != nil {
				return fmt.Errorf("writing %s %s: %w", kind, sym, err)
			}
			bars.Add(int64(len(data)))
			g.log.Debug("series imported", "kind", kind, "symbol", sym, "bars", len(data))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	g.log.Info("import finished", "kind", kind, "symbols", len(symbols), "bars", bars.Load())
	return nil
}

// StatementImporter loads financial statement CSV files into a statement
// store. Files are laid out as <dir>/<kind>/<code>.csv, one directory per
// statement kind; kinds without a directory are skipped.
type StatementImporter struct {
	dir string
	dst store.StatementStore
	log *slog.Logger
}

// NewStatementImporter creates a StatementImporter reading from dir.
func NewStatementImporter(dir string, dst store.StatementStore, log *slog.Logger) *StatementImporter {
	return &StatementImporter{dir: dir, dst: dst, log: util.OrDefault(log)}
}

// Name returns the gatherer identifier.
func (g *StatementImporter) Name() string { return "cn-import-statements" }

// Run imports every statement file found. Files are written one at a time.
func (g *StatementImporter) Run(ctx context.Context) error {
	for _, kind := range domain.StatementKinds {
		files, err := listCSV(filepath.Join(g.dir, string(kind)))
		if err != nil {
			return err
		}
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			rows, err := store.ReadStatementFile(path)
			if err != nil {
				return err
			}
			symbol := strings.TrimSuffix(filepath.Base(path), ".csv")
			if err := g.dst.WriteStatement(ctx, symbol, kind, rows); err != nil {
				return fmt.Errorf("writing %s for %s: %w", kind, symbol, err)
			}
		}
		if len(files) > 0 {
			g.log.Info("statements imported", "kind", kind, "symbols", len(files))
		}
	}
	return nil
}

// listCSV returns the sorted CSV files of dir; a missing dir has none.
func listCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
