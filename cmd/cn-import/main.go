package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"cnquant/internal/config"
	"cnquant/internal/gather"
	"cnquant/internal/store"
	"cnquant/internal/util"
)

func main() {
	from := flag.String("from", "", "directory of downloaded CSV files (stocks/, index/)")
	statements := flag.String("statements", "", "directory of statement CSV files, one subdirectory per kind")
	flag.Parse()

	cfgPath := "config/cnquant.yaml"
	if p := os.Getenv("CNQUANT_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	var gatherers []gather.Gatherer
	if *from != "" {
		pstore := store.NewParquetStore(cfg.Storage.DataDir)
		gatherers = append(gatherers, gather.NewBarImporter(store.NewCSVStore(*from), pstore, cfg.Backtest.Workers, logger))
	}
	if *statements != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			log.Fatalf("creating database directory: %v", err)
		}
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("opening database: %v", err)
		}
		defer db.Close()
		gatherers = append(gatherers, gather.NewStatementImporter(*statements, db, logger))
	}
	if len(gatherers) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	for _, g := range gatherers {
		logger.Info("starting gatherer", "name", g.Name())
		if err := g.Run(ctx); err != nil {
			logger.Error("gatherer failed", "name", g.Name(), "error", err)
			os.Exit(1)
		}
	}
}
