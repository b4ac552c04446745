package commands

import (
	"ecocito-poller/internal/entry"
	"ecocito-poller/internal/sensors"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(sensorsCmd)
}

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "Runs one refresh of every unit and prints the sensor values.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		d, err := deps()
		if err != nil {
			return err
		}

		e, err := entry.Setup(cmd.Context(), cfg, d)
		if err != nil {
			return err
		}
		defer e.Unload()

		readings, err := sensors.Snapshot(e.Sources())
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"Sensor", "Value", "Unit", "Last updated"})
		for _, r := range readings {
			lastUpdated := "-"
			if r.LastUpdated != nil {
				lastUpdated = r.LastUpdated.Format("2006-01-02")
			}
			t.AppendRow(table.Row{r.Key, r.Value, r.Unit, lastUpdated})
		}
		t.Render()
		return nil
	},
}
