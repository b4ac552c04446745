package commands

import (
	"fmt"

	"ecocito-poller/internal/entry"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Checks that the configured credentials are accepted by the portal.",
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

		key := entry.ValidateInput(cmd.Context(), cfg, d)
		if key != "" {
			return fmt.Errorf("login failed: %s", key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", cfg.Username)
		return nil
	},
}
