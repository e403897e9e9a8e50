package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rustyeddy/fxrisk/service"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one risk cycle and print the report",
	Long: `Evaluate the configured portfolio once against the candle history
and print VaR, correlation, emergency and stress results.

Examples:
  fxrisk evaluate -c fxrisk.yaml
  fxrisk evaluate --json`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

var evaluateJSON bool

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "print the report as JSON")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.svc.RunCycle(cmd.Context())
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	out := cmd.OutOrStdout()
	if evaluateJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printReport(out, rep)
	return nil
}

func newTable(out io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func printReport(out io.Writer, rep service.Report) {
	t := newTable(out, "VALUE AT RISK")
	t.AppendHeader(table.Row{"Method", "VaR", "Limit", "Samples", "Breach"})
	for _, m := range valueatrisk.Methods {
		r, ok := rep.VaR[m]
		if !ok {
			continue
		}
		val := fmt.Sprintf("$%.2f", r.Value)
		switch {
		case r.Insufficient:
			val = "insufficient data"
		case r.Stale:
			val += " (stale)"
		}
		t.AppendRow(table.Row{m, val, fmt.Sprintf("$%.2f", rep.VaRLimit), r.Samples, mark(rep.VaRBreaches[m])})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	t.Render()

	t = newTable(out, "CORRELATION")
	t.AppendRows([]table.Row{
		{"Pairs", rep.Drift.Pairs},
		{"Max |r|", fmt.Sprintf("%.3f", rep.Drift.Max)},
		{"Avg |r|", fmt.Sprintf("%.3f", rep.Drift.Avg)},
		{"Max change", fmt.Sprintf("%.3f", rep.Drift.MaxChange)},
		{"Breaches", rep.Drift.BreachCount},
	})
	if len(rep.CorrelationBreaches) > 0 {
		t.AppendSeparator()
		for _, b := range rep.CorrelationBreaches {
			t.AppendRow(table.Row{b.Pair1 + " / " + b.Pair2, fmt.Sprintf("%+.3f %s", b.Correlation, b.Severity)})
		}
	}
	t.Render()

	if len(rep.Adjustments) > 0 {
		t = newTable(out, "SUGGESTED ADJUSTMENTS")
		t.AppendHeader(table.Row{"Pair", "Current", "Recommended", "Ratio", "Priority"})
		for _, r := range rep.Adjustments {
			t.AppendRow(table.Row{r.Pair, fmt.Sprintf("%.0f", r.CurrentSize), fmt.Sprintf("%.0f", r.RecommendedSize), fmt.Sprintf("%.2f", r.AdjustmentRatio), r.Priority})
		}
		t.Render()
	}

	if len(rep.Exposure) > 0 {
		ccys := make([]string, 0, len(rep.Exposure))
		for c := range rep.Exposure {
			ccys = append(ccys, c)
		}
		sort.Strings(ccys)
		t = newTable(out, "CURRENCY EXPOSURE")
		for _, c := range ccys {
			t.AppendRow(table.Row{c, fmt.Sprintf("%.2f", rep.Exposure[c])})
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
		t.Render()
	}

	st := rep.Emergency
	t = newTable(out, "EMERGENCY")
	t.AppendRows([]table.Row{
		{"Level", st.Level},
		{"Drawdown", fmt.Sprintf("%.2f%%", st.Drawdown*100)},
		{"Equity", fmt.Sprintf("$%.2f", st.PortfolioValue)},
		{"High water mark", fmt.Sprintf("$%.2f", st.HighWaterMark)},
		{"Size multiplier", fmt.Sprintf("%.2f", st.PositionSizeMultiplier)},
		{"Trading halted", mark(st.TradingHalted)},
		{"Active stress events", st.ActiveStressEvents},
	})
	for _, ev := range rep.StressEvents {
		t.AppendRow(table.Row{ev.Type, fmt.Sprintf("%.2f %s [%s]", ev.Severity, ev.RecommendedAction, strings.Join(ev.AffectedPairs, ","))})
	}
	t.Render()

	if rep.Stale {
		fmt.Fprintf(out, "⚠ stale data, missing: %s\n", strings.Join(rep.MissingPairs, ", "))
	}
	for _, al := range rep.Alerts {
		fmt.Fprintln(out, al.String())
	}
}

func mark(b bool) string {
	if b {
		return "YES"
	}
	return "-"
}
