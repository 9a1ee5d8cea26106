package main

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/agencylink/internal/config"
)

type rootOptions struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "agencylink",
		Short: "Marketplace install broker for agencies and their sub-accounts",
		Long: `agencylink runs the OAuth install flow for a marketplace app, stores the
resulting agency and sub-account tokens, mints sub-account tokens from agency
installs and refreshes expired tokens.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate(`{{printf "agencylink version %s\n" .Version}}`)
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load variables from this file before reading the environment (default .env)")

	cmd.AddCommand(
		newServeCmd(opts),
		newDiscoverCmd(opts),
		newRefreshCmd(opts),
		newAdminTokenCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the .env file named by --env-file, or ./.env when unset.
func (o *rootOptions) loadConfig() *config.Config {
	if o.envFile != "" {
		return config.Load(o.envFile)
	}
	return config.Load()
}
