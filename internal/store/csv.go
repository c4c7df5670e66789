package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"cnquant/internal/domain"
)

// Compile-time interface check.
var _ BarReader = (*CSVStore)(nil)

// CSVStore reads the flat-file layout written by the data downloaders: one
// CSV per symbol with a header row naming at least date, open, high, low and
// close columns.
//
//	<Dir>/stocks/<code>.csv   daily stock bars
//	<Dir>/index/<code>.csv    reference index bars
type CSVStore struct {
	Dir string
}

// NewCSVStore creates a CSVStore rooted at dir.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{Dir: dir}
}

// ReadBars reads the symbol's CSV file and returns the bars within r.
func (s *CSVStore) ReadBars(_ context.Context, kind domain.SeriesKind, symbol string, r domain.DateRange) ([]domain.Bar, error) {
	bars, err := readCSVFile(s.path(kind, symbol), symbol)
	if err != nil {
		return nil, err
	}
	if r.IsOpen() {
		return bars, nil
	}
	out := bars[:0]
	for _, b := range bars {
		if r.Contains(b.Date) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListSymbols lists the codes that have a CSV file for the kind.
func (s *CSVStore) ListSymbols(_ context.Context, kind domain.SeriesKind) ([]string, error) {
	entries, err := os.ReadDir(s.kindDir(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var symbols []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(symbols)
	return symbols, nil
}

func (s *CSVStore) kindDir(kind domain.SeriesKind) string {
	if kind == domain.KindIndex {
		return filepath.Join(s.Dir, "index")
	}
	return filepath.Join(s.Dir, "stocks")
}

func (s *CSVStore) path(kind domain.SeriesKind, symbol string) string {
	return filepath.Join(s.kindDir(kind), symbol+".csv")
}

// ReadFile loads the bars of an explicit CSV file. The symbol is the file's
// base name without extension.
func ReadFile(path string) ([]domain.Bar, error) {
	symbol := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return readCSVFile(path, symbol)
}

func readCSVFile(path, symbol string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no data for %s: %w", symbol, domain.ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	bars, err := parseBars(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return bars, nil
}

var requiredColumns = []string{"date", "open", "high", "low", "close"}

// parseBars decodes a header-led CSV stream into bars sorted by date.
func parseBars(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	volIdx, hasVol := col["volume"]

	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		date, err := parseDate(field(rec, col["date"]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var prices [4]float64
		for i, name := range requiredColumns[1:] {
			v, err := strconv.ParseFloat(field(rec, col[name]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: column %s: %w", line, name, err)
			}
			prices[i] = v
		}
		b := domain.Bar{
			Symbol: symbol,
			Date:   date,
			Open:   prices[0],
			High:   prices[1],
			Low:    prices[2],
			Close:  prices[3],
		}
		if hasVol {
			if v, err := strconv.ParseFloat(field(rec, volIdx), 64); err == nil {
				b.Volume = int64(v)
			}
		}
		bars = append(bars, b)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "20060102", "2006/01/02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return domain.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad date %q", s)
}

// ReadStatementFile loads a financial statement saved as CSV, see
// ParseStatement.
func ReadStatementFile(path string) ([]domain.StatementRow, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("statement %s: %w", path, domain.ErrNotFound)
		}
		return nil, err
	}
	defer f.Close()

	rows, err := ParseStatement(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rows, nil
}

// ParseStatement decodes a statement laid out with one item per line and one
// reporting period per column: the header's first cell is a label and the
// rest are period dates. Blank cells and "--" are skipped. Rows are returned
// in header order with periods normalised to YYYY-MM-DD where they parse as
// dates.
func ParseStatement(r io.Reader) ([]domain.StatementRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("statement header has no periods")
	}

	rows := make([]domain.StatementRow, len(header)-1)
	for i, h := range header[1:] {
		period := strings.TrimSpace(h)
		if t, err := parseDate(period); err == nil {
			period = t.Format("2006-01-02")
		}
		rows[i] = domain.StatementRow{Period: period, Values: make(map[string]float64)}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		item := field(rec, 0)
		if item == "" {
			continue
		}
		for i := range rows {
			cell := strings.ReplaceAll(field(rec, i+1), ",", "")
			if cell == "" || cell == "--" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: item %s: %w", line, item, err)
			}
			rows[i].Values[item] = v
		}
	}
	return rows, nil
}
