package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/appguard/appguard/internal/config"
	"github.com/appguard/appguard/internal/connectors/configstore"
)

var validateProvidersCmd = &cobra.Command{
	Use:   "validate-providers [file]",
	Short: "Validate a providers file without contacting any provider.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Validation never opens sealed credentials, so the passphrase is
		// not required here.
		cfg, err := config.LoadOptionalSecrets()
		if err != nil {
			return err
		}
		path := cfg.ProvidersFile
		if len(args) == 1 {
			path = args[0]
		}
		file, err := configstore.LoadFile(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d provider entries OK\n", path, len(file.Providers))
		return nil
	},
}
