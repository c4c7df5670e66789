package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cnquant/internal/backtest"
	"cnquant/internal/domain"
	"cnquant/internal/kline"
	"cnquant/internal/report"
	"cnquant/internal/screen"
	"cnquant/internal/store"
	"cnquant/internal/util"
)

// outputFlags are shared by the two backtest commands.
type outputFlags struct {
	csvPath string
	noSave  bool
	noChart bool
}

func (o *outputFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&o.csvPath, "out", "", "write the daily rows to this CSV file")
	fs.BoolVar(&o.noSave, "no-save", false, "do not record the run in the database")
	fs.BoolVar(&o.noChart, "no-chart", false, "do not render the net value chart")
}

func (a *app) runSingle(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("single", flag.ExitOnError)
	name := fs.String("strategy", "holding", "strategy name")
	symbol := fs.String("symbol", "", "stock or index code")
	index := fs.Bool("index", false, "read the symbol from the index series")
	file := fs.String("file", "", "load bars from this CSV file instead of the price store")
	dates := fs.String("range", "", "date range start:end (default from config, else whole series)")
	var out outputFlags
	out.register(fs)
	fs.Parse(args)

	if *symbol == "" && *file == "" {
		return fmt.Errorf("single: -symbol or -file is required: %w", domain.ErrConfiguration)
	}
	strat, err := a.strategies.Lookup(*name)
	if err != nil {
		return err
	}
	window, err := a.window(*dates, a.cfg.Backtest.DateRange)
	if err != nil {
		return err
	}

	kind := domain.KindDaily
	if *index {
		kind = domain.KindIndex
	}
	series, err := a.loadSeries(ctx, kind, *symbol, *file)
	if err != nil {
		return err
	}
	if !window.IsOpen() {
		if err := series.RestrictWindow(window); err != nil {
			return err
		}
	}
	a.log.Info("series loaded", "symbol", series.Symbol(), "window", series.Window().String(),
		"days", len(series.Dates()), "years", series.YearsSpanned())

	res, err := backtest.NewSingle(series, strat, a.costs(), a.log).Run(ctx)
	if err != nil {
		return err
	}
	return a.finish(ctx, res, out)
}

// loadSeries reads a series from an explicit CSV file when one is given,
// otherwise from the configured price store.
func (a *app) loadSeries(ctx context.Context, kind domain.SeriesKind, symbol, file string) (*kline.Series, error) {
	if file == "" {
		return kline.Load(ctx, a.bars, kind, symbol)
	}
	bars, err := store.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", file, err)
	}
	if symbol == "" {
		symbol = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	}
	return kline.New(symbol, bars)
}

func (a *app) runPortfolio(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("portfolio", flag.ExitOnError)
	name := fs.String("strategy", "holding", "strategy name")
	poolList := fs.String("pools", "", "comma-separated pool names")
	dates := fs.String("range", "", "date range start:end (default from config, else whole series)")
	slots := fs.Int("slots", a.cfg.Backtest.PositionSlots, "number of equal position slots")
	var out outputFlags
	out.register(fs)
	fs.Parse(args)

	if *poolList == "" {
		return fmt.Errorf("portfolio: -pools is required: %w", domain.ErrConfiguration)
	}
	strat, err := a.strategies.Lookup(*name)
	if err != nil {
		return err
	}
	window, err := a.window(*dates, a.cfg.Backtest.DateRange)
	if err != nil {
		return err
	}
	sizer, err := backtest.NewEqualSlots(*slots)
	if err != nil {
		return err
	}

	var (
		pools   []backtest.Pool
		symbols []string
		seen    = make(map[string]bool)
	)
	for _, poolName := range strings.Split(*poolList, ",") {
		poolName = strings.TrimSpace(poolName)
		if poolName == "" {
			continue
		}
		members, err := a.pools.LoadPool(ctx, poolName)
		if err != nil {
			return fmt.Errorf("loading pool %s: %w", poolName, err)
		}
		pools = append(pools, backtest.Pool{Name: poolName, Symbols: members})
		for _, sym := range members {
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}

	start := time.Now()
	loaded, err := kline.LoadMany(ctx, a.bars, domain.KindDaily, symbols, window, a.cfg.Backtest.Workers)
	if err != nil {
		return err
	}
	a.log.Info("series loaded", "symbols", len(loaded), "elapsed", time.Since(start).String())

	series := make(map[string]*kline.Series, len(loaded))
	for _, s := range loaded {
		series[s.Symbol()] = s
	}

	p, err := backtest.NewPortfolio(pools, series, strat, a.costs(),
		backtest.WithSizer(sizer), backtest.WithLogger(a.log))
	if err != nil {
		return err
	}
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	return a.finish(ctx, res, out)
}

// finish prints the run summary and writes the requested outputs.
func (a *app) finish(ctx context.Context, res *backtest.Result, out outputFlags) error {
	m, err := res.Measure()
	if err != nil {
		return err
	}
	summary := m.Summary()
	title := res.Strategy + " " + res.Target
	report.WriteSummary(os.Stdout, title, summary)
	a.writeBenchmark(ctx, res)

	if out.csvPath != "" {
		if err := writeCSV(res, out.csvPath); err != nil {
			return err
		}
		a.log.Info("rows written", "path", out.csvPath, "rows", len(res.Rows))
	}

	if !out.noSave {
		db, err := a.openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		rec := res.Record(summary)
		err = util.RetryIf(ctx, 5, 200*time.Millisecond, store.IsBusy, func() error {
			_, err := db.SaveRun(ctx, rec)
			return err
		})
		if err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		a.log.Info("run saved", "id", rec.ID, "rows", len(rec.Rows))
	}

	if !out.noChart {
		name := fmt.Sprintf("%s_%s_%s", res.Kind, res.Strategy, strings.ReplaceAll(res.Target, ",", "+"))
		path, err := report.SaveNetValueChart(a.cfg.Backtest.ChartDir, name, title, res.Dates(), res.NetValues(), summary)
		if err != nil {
			return err
		}
		a.log.Info("chart written", "path", path)
	}
	return nil
}

// writeBenchmark prints buy-and-hold of the reference index over the run's
// days. A missing index only costs the comparison.
func (a *app) writeBenchmark(ctx context.Context, res *backtest.Result) {
	code := a.cfg.Backtest.ReferenceIndex
	if code == "" {
		return
	}
	ref, err := kline.Load(ctx, a.bars, domain.KindIndex, code)
	if err == nil {
		var refNV float64
		if refNV, err = backtest.ReferenceReturn(ref, res.Dates()); err == nil {
			report.WriteBenchmark(os.Stdout, code, res.FinalNetValue(), refNV)
			return
		}
	}
	a.log.Warn("reference return unavailable", "index", code, "error", err)
}

func writeCSV(res *backtest.Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := res.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (a *app) runBeta(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("beta", flag.ExitOnError)
	symbol := fs.String("symbol", "", "stock code")
	ref := fs.String("ref", a.cfg.Backtest.ReferenceIndex, "reference index code")
	dates := fs.String("range", "", "estimation range start:end (default from config beta_range)")
	rf := fs.Float64("rf", a.cfg.Backtest.RiskFreeRate, "annual risk-free rate")
	expected := fs.String("expected", "", "expected annual market return (default: historical)")
	fs.Parse(args)

	if *symbol == "" {
		return fmt.Errorf("beta: -symbol is required: %w", domain.ErrConfiguration)
	}
	window, err := a.window(*dates, a.cfg.Backtest.BetaRange)
	if err != nil {
		return err
	}
	var rm *float64
	if *expected != "" {
		v, err := strconv.ParseFloat(*expected, 64)
		if err != nil {
			return fmt.Errorf("beta: -expected %q: %w", *expected, domain.ErrConfiguration)
		}
		rm = &v
	}

	stock, err := kline.Load(ctx, a.bars, domain.KindDaily, *symbol)
	if err != nil {
		return err
	}
	index, err := kline.Load(ctx, a.bars, domain.KindIndex, *ref)
	if err != nil {
		return err
	}

	beta, err := stock.Beta(window, index)
	if err != nil {
		return err
	}
	required, err := stock.RequiredReturn(*rf, window, index, rm)
	if err != nil {
		return err
	}

	fmt.Printf("symbol:          %s\n", *symbol)
	fmt.Printf("reference:       %s\n", *ref)
	fmt.Printf("range:           %s\n", window)
	fmt.Printf("beta:            %.4f\n", beta)
	fmt.Printf("market return:   %.2f%%\n", stock.MarketReturn()*100)
	fmt.Printf("required return: %.2f%%\n", required*100)
	return nil
}

func (a *app) listStrategies() {
	for _, name := range a.strategies.List() {
		fmt.Println(name)
	}
}

func (a *app) showStatement(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("statement", flag.ExitOnError)
	symbol := fs.String("symbol", "", "stock code")
	kind := fs.String("kind", string(domain.StatementBalanceSheet), "statement kind")
	fs.Parse(args)

	if *symbol == "" {
		return fmt.Errorf("statement: -symbol is required: %w", domain.ErrConfiguration)
	}
	k, err := domain.ParseStatementKind(*kind)
	if err != nil {
		return err
	}

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ReadStatement(ctx, *symbol, k)
	if err != nil {
		return err
	}
	report.WriteStatement(os.Stdout, rows)
	return nil
}

func (a *app) listRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum number of runs to list")
	id := fs.Int64("id", 0, "print the daily rows of this run instead")
	fs.Parse(args)

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if *id > 0 {
		rows, err := db.LoadRows(ctx, *id)
		if err != nil {
			return fmt.Errorf("run %d: %w", *id, err)
		}
		report.WriteRunRows(os.Stdout, rows)
		return nil
	}

	runs, err := db.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	report.WriteRuns(os.Stdout, runs)
	return nil
}

func (a *app) runScreen(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("screen", flag.ExitOnError)
	kind := fs.String("kind", string(domain.TableReport), "statement kind to screen")
	where := fs.String("where", "", "comma-separated conditions, e.g. roe>15,net_profit_ratio>10")
	years := fs.Int("years", 5, "number of latest complete years checked")
	minYears := fs.Int("min", 0, "years that must satisfy the conditions (default all)")
	pool := fs.String("pool", "", "screen this pool instead of every stored stock")
	save := fs.String("save", "", "write the picked stocks to this pool")
	fs.Parse(args)

	if *where == "" {
		return fmt.Errorf("screen: -where is required: %w", domain.ErrConfiguration)
	}
	k, err := domain.ParseStatementKind(*kind)
	if err != nil {
		return err
	}
	var conds []screen.Condition
	for _, part := range strings.Split(*where, ",") {
		c, err := screen.ParseCondition(part)
		if err != nil {
			return err
		}
		conds = append(conds, c)
	}

	var symbols []string
	if *pool != "" {
		symbols, err = a.pools.LoadPool(ctx, *pool)
	} else {
		symbols, err = a.bars.ListSymbols(ctx, domain.KindDaily)
	}
	if err != nil {
		return err
	}

	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	picked, err := screen.New(db, a.log).Screen(ctx, symbols, screen.Rule{
		Kind:       k,
		Conditions: conds,
		Years:      *years,
		MinYears:   *minYears,
	})
	if err != nil {
		return err
	}
	for _, sym := range picked {
		fmt.Println(sym)
	}

	if *save != "" {
		path, err := store.NewFilePoolStore(a.cfg.Storage.PoolDir).SavePool(ctx, *save, picked)
		if err != nil {
			return err
		}
		a.log.Info("pool saved", "path", path, "symbols", len(picked))
	}
	return nil
}
