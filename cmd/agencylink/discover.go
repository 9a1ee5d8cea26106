package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newDiscoverCmd(root *rootOptions) *cobra.Command {
	var companyID string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Enumerate an agency's sub-accounts and mint their tokens",
		Long: `discover lists the sub-accounts of an installed agency and mints a token for
each one. Without --company-id an arbitrary agency install is used; with
several agencies installed the choice is not deterministic.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.loadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := cfg.Logger()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if companyID == "" {
				install, err := a.install.GetAgencyInstall(ctx, "")
				if err != nil {
					return fmt.Errorf("find agency install: %w", err)
				}
				companyID = install.AgencyID
				logger.Info("no company id given, using agency install", "agency_id", companyID)
			}

			result, err := a.discovery.DiscoverAndMint(ctx, companyID)
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&companyID, "company-id", "", "agency (company) id to discover")
	return cmd
}
