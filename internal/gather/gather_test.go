package gather

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cnquant/internal/domain"
	"cnquant/internal/store"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBarImporter(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "stocks", "600000.csv"),
		"date,open,high,low,close,volume\n"+
			"2015-12-31,10,11,9,10.5,100\n"+
			"2016-01-04,10.5,11,10,10.8,200\n")
	writeFile(t, filepath.Join(src, "stocks", "000002.csv"),
		"date,open,high,low,close\n2016-01-04,20,21,19,20.5\n")
	writeFile(t, filepath.Join(src, "index", "000001.csv"),
		"date,open,high,low,close\n2016-01-04,3500,3550,3400,3450\n")

	dst := store.NewParquetStore(t.TempDir())
	imp := NewBarImporter(store.NewCSVStore(src), dst, 2, nil)
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ctx := context.Background()
	bars, err := dst.ReadBars(ctx, domain.KindDaily, "600000", domain.DateRange{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(bars) != 2 || bars[1].Close != 10.8 || bars[0].Volume != 100 {
		t.Errorf("600000 bars = %+v", bars)
	}

	daily, err := dst.ListSymbols(ctx, domain.KindDaily)
	if err != nil {
		t.Fatal(err)
	}
	if len(daily) != 2 {
		t.Errorf("daily symbols = %v, want 2", daily)
	}
	index, err := dst.ReadBars(ctx, domain.KindIndex, "000001", domain.DateRange{})
	if err != nil || len(index) != 1 {
		t.Errorf("index bars = %v, %v", index, err)
	}
	if _, err := dst.ReadBars(ctx, domain.KindDaily, "000001", domain.DateRange{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("index code leaked into daily: %v", err)
	}
}

func TestBarImporterBadFile(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "stocks", "600000.csv"), "date,open\n2016-01-04,1\n")

	imp := NewBarImporter(store.NewCSVStore(src), store.NewParquetStore(t.TempDir()), 1, nil)
	if err := imp.Run(context.Background()); err == nil {
		t.Error("expected error for a file without price columns")
	}
}

func TestStatementImporter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "balance_sheet", "600000.csv"),
		"item,20161231,20151231\nassets,500,400\n")
	writeFile(t, filepath.Join(dir, "notakind", "600000.csv"), "item,2016\nx,1\n")

	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	imp := NewStatementImporter(dir, db, nil)
	if err := imp.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows, err := db.ReadStatement(context.Background(), "600000", domain.StatementBalanceSheet)
	if err != nil {
		t.Fatalf("ReadStatement: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d periods, want 2", len(rows))
	}
	if rows[0].Period != "2015-12-31" || rows[0].Values["assets"] != 400 {
		t.Errorf("first period = %+v", rows[0])
	}
	if _, err := db.ReadStatement(context.Background(), "600000", domain.StatementProfit); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("profit statement error = %v, want ErrNotFound", err)
	}
}
