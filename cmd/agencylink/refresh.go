package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRefreshCmd(root *rootOptions) *cobra.Command {
	var tenantKey string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a refresh-token exchange for one tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.loadConfig()
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cfg.Logger())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			summary, err := a.install.RefreshTenant(ctx, tenantKey)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&tenantKey, "tenant-key", "", "tenant key, e.g. agency_C1 or location_L9")
	_ = cmd.MarkFlagRequired("tenant-key")
	return cmd
}
