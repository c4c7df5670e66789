package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cnquant/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for cnquant.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Logging    Logging    `yaml:"logging"`
	Indicators Indicators `yaml:"indicators"`
	Backtest   Backtest   `yaml:"backtest"`
	Strategies Strategies `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	PoolDir     string `yaml:"pool_dir"`
	PriceFormat string `yaml:"price_format"` // "parquet" or "csv"
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Indicators holds the centered window half-widths used to locate support
// and resistance points.
type Indicators struct {
	SupportWindow    int `yaml:"support_window"`
	ResistanceWindow int `yaml:"resistance_window"`
}

// Backtest defines trading costs and run parameters.
type Backtest struct {
	Brokerage      float64 `yaml:"brokerage"`
	StampDuty      float64 `yaml:"stamp_duty"`
	PositionSlots  int     `yaml:"position_slots"`
	DateRange      string  `yaml:"date_range"` // backtest window, empty for the whole series
	BetaRange      string  `yaml:"beta_range"`
	ReferenceIndex string  `yaml:"reference_index"`
	RiskFreeRate   float64 `yaml:"risk_free_rate"`
	Workers        int     `yaml:"workers"`
	ChartDir       string  `yaml:"chart_dir"`
}

// Strategies holds parameters for the built-in strategies.
type Strategies struct {
	Bollinger BollingerConfig `yaml:"bollinger"`
	DualMA    DualMAConfig    `yaml:"dual_ma"`
	Random    RandomConfig    `yaml:"random"`
}

// BollingerConfig parameterises the Bollinger breakout strategy.
type BollingerConfig struct {
	Window int     `yaml:"window"`
	Scale  float64 `yaml:"scale"`
}

// DualMAConfig parameterises the dual moving average strategy.
type DualMAConfig struct {
	Fast int `yaml:"fast"`
	Slow int `yaml:"slow"`
}

// RandomConfig seeds the random strategy.
type RandomConfig struct {
	Seed int64 `yaml:"seed"`
}

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:     "data",
			SQLitePath:  "data/cnquant.db",
			PoolDir:     "result/pool",
			PriceFormat: "parquet",
		},
		Logging: Logging{Level: "info", Format: "json"},
		Indicators: Indicators{
			SupportWindow:    20,
			ResistanceWindow: 20,
		},
		Backtest: Backtest{
			Brokerage:      0.001,
			StampDuty:      0.001,
			PositionSlots:  10,
			BetaRange:      "2012:2016",
			ReferenceIndex: "000001",
			RiskFreeRate:   0.04,
			Workers:        8,
			ChartDir:       "result/pics",
		},
		Strategies: Strategies{
			Bollinger: BollingerConfig{Window: 350, Scale: 2.5},
			DualMA:    DualMAConfig{Fast: 60, Slow: 250},
			Random:    RandomConfig{Seed: 1},
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of the
// defaults, applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POOL_DIR"); v != "" {
		cfg.Storage.PoolDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	switch c.Storage.PriceFormat {
	case "parquet", "csv":
	default:
		problems = append(problems, fmt.Sprintf("storage.price_format %q (want parquet or csv)", c.Storage.PriceFormat))
	}
	if c.Indicators.SupportWindow < 1 || c.Indicators.ResistanceWindow < 1 {
		problems = append(problems, "indicators windows must be positive")
	}
	if c.Backtest.Brokerage < 0 || c.Backtest.StampDuty < 0 {
		problems = append(problems, "backtest costs must not be negative")
	}
	if c.Backtest.PositionSlots < 1 {
		problems = append(problems, "backtest.position_slots must be positive")
	}
	for _, r := range []string{c.Backtest.DateRange, c.Backtest.BetaRange} {
		if _, err := domain.ParseDateRange(r); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if c.Strategies.Bollinger.Window < 1 || c.Strategies.Bollinger.Scale < 0 {
		problems = append(problems, "strategies.bollinger needs window >= 1 and scale >= 0")
	}
	if c.Strategies.DualMA.Fast < 1 || c.Strategies.DualMA.Slow < 1 {
		problems = append(problems, "strategies.dual_ma windows must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s: %w", strings.Join(problems, "; "), domain.ErrConfiguration)
	}
	return nil
}
