// Package report renders backtest results for people: a PNG net value chart
// and plain-text tables of summaries, runs and financial statements.
package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	charts "github.com/vicanso/go-charts/v2"

	"cnquant/internal/domain"
	"cnquant/internal/perf"
)

// NetValueChart renders the net value curve as PNG. The subtitle carries
// the run's headline statistics.
func NetValueChart(title string, dates []time.Time, nav []float64, s perf.Summary) ([]byte, error) {
	if len(nav) == 0 || len(dates) != len(nav) {
		return nil, fmt.Errorf("chart %s: %d dates for %d values: %w", title, len(dates), len(nav), domain.ErrInsufficientData)
	}

	labels := make([]string, len(dates))
	for i, d := range dates {
		labels[i] = d.Format("2006-01-02")
	}

	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, v := range nav {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}
	padding := (maxVal - minVal) * 0.05
	if padding == 0 {
		padding = maxVal * 0.05
	}
	yMin, yMax := minVal-padding, maxVal+padding

	subtitle := fmt.Sprintf("MaxDD: %.2f%% | DD duration: %d days | Sharpe: %.2f | CAGR: %.2f%%",
		s.MaxDrawdown.Value*100, s.MaxDrawdownDuration.Days, s.SharpeRatio, s.CAGR*100)

	split := 6
	if len(labels) <= 30 {
		split = len(labels) / 3
		if split < 3 {
			split = 3
		}
	}

	p, err := charts.LineRender(
		[][]float64{nav},
		charts.TitleTextOptionFunc(title, subtitle),
		charts.XAxisOptionFunc(charts.XAxisOption{
			Data:        labels,
			SplitNumber: split,
			BoundaryGap: charts.FalseFlag(),
		}),
		charts.YAxisOptionFunc(charts.YAxisOption{
			Min:         &yMin,
			Max:         &yMax,
			DivideCount: 5,
		}),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(1400),
		charts.HeightOptionFunc(700),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}

	buf, err := p.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate chart bytes: %w", err)
	}
	return buf, nil
}

// SaveNetValueChart renders the chart into dir/name.png and returns the path.
func SaveNetValueChart(dir, name, title string, dates []time.Time, nav []float64, s perf.Summary) (string, error) {
	buf, err := NetValueChart(title, dates, nav, s)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".png")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
