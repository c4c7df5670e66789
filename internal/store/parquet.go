package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"cnquant/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, UTC midnight
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files organized by symbol and year,
// merging with whatever the year file already holds. Each symbol+year
// combination produces a separate file at:
//
//	<DataDir>/cn/<kind>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, kind domain.SeriesKind, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		day := domain.Day(b.Date)
		k := key{symbol: b.Symbol, year: day.Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    b.Symbol,
			Timestamp: day.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(kind, k.symbol, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads the symbol's bars within r. Only the year files that can
// overlap r are opened.
func (s *ParquetStore) ReadBars(_ context.Context, kind domain.SeriesKind, symbol string, r domain.DateRange) ([]domain.Bar, error) {
	dir := s.symbolDir(kind, symbol)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s %s: %w", kind, symbol, domain.ErrNotFound)
		}
		return nil, err
	}

	var bars []domain.Bar
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSuffix(name, ".parquet"))
		if err != nil {
			continue
		}
		if !r.Start.IsZero() && year < r.Start.Year() {
			continue
		}
		if !r.End.IsZero() && year > r.End.Year() {
			continue
		}

		records, err := readParquetFile[BarRecord](filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s/%s: %w", symbol, name, err)
		}
		for _, rec := range records {
			ts := time.UnixMilli(rec.Timestamp).UTC()
			if !r.Contains(ts) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol: rec.Symbol,
				Date:   domain.Day(ts),
				Open:   rec.Open,
				High:   rec.High,
				Low:    rec.Low,
				Close:  rec.Close,
				Volume: rec.Volume,
			})
		}
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// ListSymbols lists all symbols that have bar data under the given kind.
func (s *ParquetStore) ListSymbols(_ context.Context, kind domain.SeriesKind) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(domain.MarketCN), string(kind))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// symbolDir returns the directory holding a symbol's year files.
func (s *ParquetStore) symbolDir(kind domain.SeriesKind, symbol string) string {
	return filepath.Join(s.DataDir, string(domain.MarketCN), string(kind), strings.ToUpper(symbol))
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/cn/<kind>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(kind domain.SeriesKind, symbol string, year int) string {
	return filepath.Join(s.symbolDir(kind, symbol), strconv.Itoa(year)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
