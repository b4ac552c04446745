package commands

import (
	"context"
	"fmt"

	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/entry"
	"ecocito-poller/internal/scrapers/ecocito"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var fetchYear int

func init() {
	fetchCmd.Flags().IntVarP(&fetchYear, "year", "y", 0, "The year to fetch, defaults to the current year.")
	rootCmd.AddCommand(fetchCmd)
}

type fetchKind func(ctx context.Context, client *ecocito.Client, year int) ([]ecocito.CollectionEvent, error)

var fetchKinds = map[string]fetchKind{
	"garbage": func(ctx context.Context, client *ecocito.Client, year int) ([]ecocito.CollectionEvent, error) {
		return client.GarbageCollections(ctx, year)
	},
	"recycling": func(ctx context.Context, client *ecocito.Client, year int) ([]ecocito.CollectionEvent, error) {
		return client.RecyclingCollections(ctx, year)
	},
	"depot": func(ctx context.Context, client *ecocito.Client, year int) ([]ecocito.CollectionEvent, error) {
		visits, err := client.DepotVisits(ctx, year)
		if err != nil {
			return nil, err
		}
		out := make([]ecocito.CollectionEvent, len(visits))
		for i, v := range visits {
			out[i] = ecocito.CollectionEvent{Date: v.Date, Type: ecocito.DefaultCollection}
		}
		return out, nil
	},
}

func targetYear(clock chrono.API, year int) int {
	if year == 0 {
		return clock.Now().Year()
	}
	return year
}

var fetchCmd = &cobra.Command{
	Use:       "fetch <garbage|recycling|depot> [--year <year>]",
	Short:     "Logs in and prints the events of one kind for a year.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"garbage", "recycling", "depot"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		d, err := deps()
		if err != nil {
			return err
		}

		client, err := entry.NewClient(cfg, d)
		if err != nil {
			return err
		}
		err = client.Authenticate(cmd.Context())
		if err != nil {
			return fmt.Errorf("login failed: %s: %w", entry.ErrorKey(err), err)
		}

		year := targetYear(d.Clock, fetchYear)
		events, err := fetchKinds[args[0]](cmd.Context(), client, year)
		if err != nil {
			return err
		}

		t := newTable(cmd.OutOrStdout())
		t.SetTitle(fmt.Sprintf("%s %d", args[0], year))
		t.AppendHeader(table.Row{"Date", "Type", "Location", "Quantity (kg)"})
		total := 0.0
		for _, e := range events {
			t.AppendRow(table.Row{
				e.Date.Format("2006-01-02 15:04"),
				e.Type.String(),
				e.Location,
				e.Quantity,
			})
			total += e.Quantity
		}
		t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d events", len(events)), total})
		t.Render()
		return nil
	},
}
