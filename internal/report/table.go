package report

import (
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"cnquant/internal/domain"
	"cnquant/internal/perf"
	"cnquant/internal/store"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	return table
}

// WriteSummary prints the headline statistics of one run.
func WriteSummary(w io.Writer, name string, s perf.Summary) {
	table := newTable(w, []string{"Metric", name})
	table.Append([]string{"Final Net Value", formatFloat(s.FinalNetValue, 4)})
	table.Append([]string{"Years", formatFloat(s.YearsSpanned, 2)})
	table.Append([]string{"CAGR %", formatFloat(s.CAGR*100, 2)})
	table.Append([]string{"Sharpe Ratio", formatFloat(s.SharpeRatio, 2)})
	table.Append([]string{"Max Drawdown %", formatFloat(s.MaxDrawdown.Value*100, 2)})
	table.Append([]string{"Drawdown Peak", formatDate(s.MaxDrawdown.Peak)})
	table.Append([]string{"Drawdown Trough", formatDate(s.MaxDrawdown.Trough)})
	table.Append([]string{"Max DD Duration (days)", strconv.Itoa(s.MaxDrawdownDuration.Days)})
	table.Append([]string{"Duration Start", formatDate(s.MaxDrawdownDuration.Start)})
	table.Append([]string{"Duration End", formatDate(s.MaxDrawdownDuration.End)})
	table.Render()
}

// WriteBenchmark compares a run's final net value with buy-and-hold of the
// reference index over the same days.
func WriteBenchmark(w io.Writer, ref string, netValue, refNetValue float64) {
	table := newTable(w, []string{"Benchmark", "Net Value"})
	table.Append([]string{"Strategy", formatFloat(netValue, 4)})
	table.Append([]string{"Reference " + ref, formatFloat(refNetValue, 4)})
	table.Append([]string{"Excess", formatFloat(netValue-refNetValue, 4)})
	table.Render()
}

// WriteRuns prints stored run summaries, one per line.
func WriteRuns(w io.Writer, runs []store.RunRecord) {
	table := newTable(w, []string{"ID", "Created", "Kind", "Strategy", "Target", "Net Value", "MaxDD %", "Sharpe", "CAGR %"})
	for _, r := range runs {
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Kind,
			r.Strategy,
			r.Target,
			formatFloat(r.FinalNetValue, 4),
			formatFloat(r.MaxDrawdown*100, 2),
			formatFloat(r.SharpeRatio, 2),
			formatFloat(r.CAGR*100, 2),
		})
	}
	table.Render()
}

// WriteRunRows prints the daily rows of one stored run. Single-asset rows
// show the hold flag, portfolio rows the cash and the number of positions.
func WriteRunRows(w io.Writer, rows []store.RunRow) {
	table := newTable(w, []string{"Date", "Net Value", "Daily %", "Hold", "Cash", "Positions"})
	for _, r := range rows {
		hold, cash, positions := "-", "-", "-"
		if r.Hold != nil {
			hold = strconv.Itoa(*r.Hold)
		}
		if r.CashHeld != nil {
			cash = formatFloat(*r.CashHeld, 4)
		}
		if r.StockHeld != nil {
			positions = strconv.Itoa(len(r.StockHeld))
		}
		table.Append([]string{
			formatDate(r.Date),
			formatFloat(r.NetValue, 4),
			formatFloat(r.DailyReturn*100, 2),
			hold, cash, positions,
		})
	}
	table.Render()
}

// WriteStatement prints a statement with one row per item and one column per
// period.
func WriteStatement(w io.Writer, rows []domain.StatementRow) {
	header := []string{"Item"}
	items := make(map[string]bool)
	for _, row := range rows {
		header = append(header, row.Period)
		for item := range row.Values {
			items[item] = true
		}
	}
	names := make([]string, 0, len(items))
	for item := range items {
		names = append(names, item)
	}
	sort.Strings(names)

	table := newTable(w, header)
	for _, item := range names {
		line := []string{item}
		for _, row := range rows {
			v, ok := row.Values[item]
			if !ok {
				line = append(line, "")
				continue
			}
			line = append(line, formatFloat(v, 2))
		}
		table.Append(line)
	}
	table.Render()
}

func formatFloat(v float64, prec int) string {
	if math.IsNaN(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
