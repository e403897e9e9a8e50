package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fxrisk",
	Short: "Portfolio risk monitor for FX accounts",
	Long: `fxrisk watches an FX portfolio and keeps it inside its risk budget.

It provides tools for:
  - Value-at-Risk with historical, parametric and Monte Carlo estimators
  - Correlation monitoring with position adjustment suggestions
  - Drawdown based emergency protocols and volatility stress detection
  - Emergency aware position sizing
  - A SQLite risk journal and Prometheus metrics`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "fxrisk.yaml", "config file (YAML or JSON)")
}
