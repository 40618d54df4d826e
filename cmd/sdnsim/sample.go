package main

import (
	"github.com/spf13/cobra"

	"github.com/appnet-org/sdnsim/internal/config"
)

func newSampleCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return cfg.Sample(cmd.OutOrStdout())
		},
	}
}
