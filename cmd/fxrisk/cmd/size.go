package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/service"
	"github.com/spf13/cobra"
)

var sizeCmd = &cobra.Command{
	Use:   "size <pair>",
	Short: "Size a new position under the current emergency protocol",
	Long: `Compute fixed-fractional units from entry, stop and risk percent, then
scale them by the emergency protocol, the pair's volatility and its
correlation to the book. A risk cycle runs first so the scaling reflects
current data.

Example:
  fxrisk size EUR_USD --entry 1.1000 --stop 1.0950 --risk 0.005
  fxrisk size USD_JPY --entry 150.00 --stop 149.20 --tp 151.60 --signal 1`,
	Args: cobra.ExactArgs(1),
	RunE: runSize,
}

var (
	sizeEntry   float64
	sizeStop    float64
	sizeRiskPct float64
	sizeTP      float64
	sizeSignal  int
)

func init() {
	rootCmd.AddCommand(sizeCmd)
	sizeCmd.Flags().Float64Var(&sizeEntry, "entry", 0, "entry price (required)")
	sizeCmd.Flags().Float64Var(&sizeStop, "stop", 0, "stop price (required)")
	sizeCmd.Flags().Float64Var(&sizeRiskPct, "risk", 0.005, "fraction of equity to risk")
	sizeCmd.Flags().Float64Var(&sizeTP, "tp", 0, "take profit price, enables the signal gate check")
	sizeCmd.Flags().IntVar(&sizeSignal, "signal", 1, "signal direction: 1 buy, -1 sell")
	sizeCmd.MarkFlagRequired("entry")
	sizeCmd.MarkFlagRequired("stop")
}

func runSize(cmd *cobra.Command, args []string) error {
	meta, err := market.Lookup(args[0])
	if err != nil {
		return err
	}

	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.svc.RunCycle(cmd.Context())
	if err != nil {
		return fmt.Errorf("risk cycle: %w", err)
	}

	rate, err := a.svc.QuoteRate(meta, sizeEntry)
	if err != nil {
		return fmt.Errorf("%w: add the quote currency's %s pair to watch_pairs", err, a.cfg.Account.Currency)
	}
	base := risk.Calculate(risk.Inputs{
		Equity:         rep.Equity,
		RiskPct:        sizeRiskPct,
		EntryPrice:     sizeEntry,
		StopPrice:      sizeStop,
		PipLocation:    meta.PipLocation,
		QuoteToAccount: rate,
	})
	units := a.svc.PositionSize(base.Units, meta.Name)

	t := newTable(cmd.OutOrStdout(), "POSITION SIZE "+meta.Name)
	t.AppendRows(sizeRows(base, units, sizeEntry, sizeStop, rate, rep))
	if sizeTP > 0 {
		t.AppendRow(table.Row{"Signal gate", passFail(a.svc.ValidateTrade(sizeSignal, meta.Name, sizeEntry, sizeStop, sizeTP))})
	}
	t.Render()
	return nil
}

// sizeRows lays out the sizing result. Planned risk is what the final units
// lose at the stop, after emergency scaling.
func sizeRows(base risk.Result, units, entry, stop, quoteToAccount float64, rep service.Report) []table.Row {
	planned := risk.PlannedRiskUSD(units, entry, stop, quoteToAccount)
	pct := "n/a"
	if rep.Equity > 0 {
		pct = fmt.Sprintf("%.2f%%", 100*risk.RiskPct(planned, rep.Equity))
	}
	return []table.Row{
		{"Stop distance", fmt.Sprintf("%.1f pips", base.StopPips)},
		{"Risk amount", fmt.Sprintf("$%.2f", base.RiskAmount)},
		{"Base units", fmt.Sprintf("%.0f", base.Units)},
		{"Emergency level", rep.Emergency.Level},
		{"Final units", fmt.Sprintf("%.0f", units)},
		{"Planned risk", fmt.Sprintf("$%.2f", planned)},
		{"Risk % equity", pct},
	}
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "REJECT"
}
