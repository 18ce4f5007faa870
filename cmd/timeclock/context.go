package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newContextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "context",
		Short: "Print the apprentice's assigned sites and open shift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := newLogger(cmd, cfg.LogLevel)
			c, err := opts.client(cmd, cfg, log)
			if err != nil {
				return err
			}
			appCtx, err := c.LoadContext(cmd.Context(), cfg.ApprenticeID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(appCtx)
		},
	}
}
