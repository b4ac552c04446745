package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/entry"
	"ecocito-poller/pkg/configutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	dumpDir    string
)

var rootCmd = &cobra.Command{
	Use:   "ecocito-cli",
	Short: "ecocito-cli is a CLI for checking an ecocito account and what the poller would fetch.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json5", "The config file to read the account from.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.PersistentFlags().StringVar(&dumpDir, "dump", "", "Write every HTTP exchange with the portal to this directory.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// readConfig looks for config.json5 in the working directory and its
// parents unless --config was given.
func readConfig() (entry.Config, error) {
	var cfg entry.Config
	var err error
	if rootCmd.PersistentFlags().Changed("config") {
		cfg, err = configutil.ReadConfig[entry.Config](configPath)
	} else {
		cfg, err = configutil.ReadRecursively[entry.Config](configPath)
	}
	if err != nil {
		return entry.Config{}, fmt.Errorf("read config: %w", err)
	}
	if dumpDir != "" {
		output, err := telemetry.NewDirOutput(dumpDir)
		if err != nil {
			return entry.Config{}, err
		}
		cfg.MessageOutput = output
	}
	return cfg, nil
}

func deps() (entry.Deps, error) {
	clock, err := chrono.NewStandardImpl()
	if err != nil {
		return entry.Deps{}, err
	}
	return entry.Deps{
		Tel:   telemetry.SlogAPI{},
		Clock: clock,
	}, nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(out)
	return t
}
