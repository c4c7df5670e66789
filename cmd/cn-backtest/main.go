package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cnquant/internal/backtest"
	"cnquant/internal/config"
	"cnquant/internal/domain"
	"cnquant/internal/store"
	"cnquant/internal/strategy"
	"cnquant/internal/strategy/builtins"
	"cnquant/internal/util"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cn-backtest <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  single      Backtest a strategy on one stock or index\n")
		fmt.Fprintf(os.Stderr, "  portfolio   Backtest a strategy on stock pools with shared cash\n")
		fmt.Fprintf(os.Stderr, "  beta        Estimate beta and the CAPM required return\n")
		fmt.Fprintf(os.Stderr, "  strategies  List the available strategies\n")
		fmt.Fprintf(os.Stderr, "  statement   Print a stored financial statement\n")
		fmt.Fprintf(os.Stderr, "  screen      Build a stock pool from statement conditions\n")
		fmt.Fprintf(os.Stderr, "  runs        List saved backtest runs, or one run's rows\n")
		fmt.Fprintf(os.Stderr, "  version     Print the version\n")
		fmt.Fprintf(os.Stderr, "\nRun 'cn-backtest <command> -h' for command options.\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("cn-backtest %s\n", version)
		return
	}

	cfgPath := "config/cnquant.yaml"
	if p := os.Getenv("CNQUANT_CONFIG"); p != "" {
		cfgPath = p
	}
	a, err := newApp(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "single":
		err = a.runSingle(ctx, args)
	case "portfolio":
		err = a.runPortfolio(ctx, args)
	case "beta":
		err = a.runBeta(ctx, args)
	case "strategies":
		a.listStrategies()
	case "statement":
		err = a.showStatement(ctx, args)
	case "screen":
		err = a.runScreen(ctx, args)
	case "runs":
		err = a.listRuns(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		a.log.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// app carries what every command needs: configuration, logger and the data
// collaborators built from it.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	bars       store.BarReader
	pools      store.PoolStore
	strategies *strategy.Registry
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	var bars store.BarReader
	switch cfg.Storage.PriceFormat {
	case "csv":
		bars = store.NewCSVStore(cfg.Storage.DataDir)
	default:
		bars = store.NewParquetStore(cfg.Storage.DataDir)
	}

	reg, err := builtins.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		log:        logger,
		bars:       bars,
		pools:      store.NewFilePoolStore(cfg.Storage.PoolDir),
		strategies: reg,
	}, nil
}

// openDB opens the SQLite database, creating its directory if needed.
func (a *app) openDB() (*store.SQLiteStore, error) {
	if dir := filepath.Dir(a.cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
}

// window returns the date range given on the command line, falling back to
// the configured one. An empty range is the whole series.
func (a *app) window(flagValue, configured string) (domain.DateRange, error) {
	if flagValue == "" {
		flagValue = configured
	}
	return domain.ParseDateRange(flagValue)
}

func (a *app) costs() backtest.Costs {
	return backtest.Costs{
		Brokerage: a.cfg.Backtest.Brokerage,
		StampDuty: a.cfg.Backtest.StampDuty,
	}
}
