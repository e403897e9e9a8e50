package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rustyeddy/fxrisk/config"
	"github.com/rustyeddy/fxrisk/journal"
	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Query the risk alert journal",
	Long: `List unresolved alerts or mark an alert resolved.

Examples:
  fxrisk alerts list
  fxrisk alerts resolve 01J8Z6Y0N3K9W2Q4R5T7V8X9YZ`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved alerts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAlertsList,
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsResolve,
}

var alertsVaRCmd = &cobra.Command{
	Use:   "var",
	Short: "List recent VaR calculations",
	Args:  cobra.NoArgs,
	RunE:  runAlertsVaR,
}

var alertsLimit int

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsResolveCmd)
	alertsCmd.AddCommand(alertsVaRCmd)
	alertsVaRCmd.Flags().IntVarP(&alertsLimit, "limit", "n", 20, "maximum rows")
}

func openJournal() (*journal.SQLite, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Journal.DBPath == "" {
		return nil, fmt.Errorf("no journal db_path configured")
	}
	return journal.NewSQLite(cfg.Journal.DBPath)
}

func runAlertsList(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	alerts, err := j.ActiveAlerts(cmd.Context())
	if err != nil {
		return fmt.Errorf("query alerts: %w", err)
	}
	if len(alerts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No active alerts")
		return nil
	}

	t := newTable(cmd.OutOrStdout(), "ACTIVE ALERTS")
	t.AppendHeader(table.Row{"ID", "Time", "Type", "Severity", "Message"})
	for _, a := range alerts {
		t.AppendRow(table.Row{a.ID, a.Timestamp.Format("2006-01-02 15:04:05"), a.Type, a.Severity, a.Message})
	}
	t.Render()
	return nil
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.ResolveAlert(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Resolved %s\n", args[0])
	return nil
}

func runAlertsVaR(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	rows, err := j.RecentVaRCalculations(cmd.Context(), alertsLimit)
	if err != nil {
		return fmt.Errorf("query var: %w", err)
	}

	t := newTable(cmd.OutOrStdout(), "RECENT VaR")
	t.AppendHeader(table.Row{"Time", "Method", "VaR", "Confidence", "Exposure"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Timestamp.Format("2006-01-02 15:04:05"), r.Method, fmt.Sprintf("$%.2f", r.Value), fmt.Sprintf("%.0f%%", r.ConfidenceLevel*100), fmt.Sprintf("%.0f", r.PositionSize)})
	}
	t.Render()
	return nil
}
