package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astrate-platform/astrate/broker"
	"github.com/astrate-platform/astrate/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.String())
			fmt.Fprintf(cmd.OutOrStdout(), "# registered brokers: %v\n", broker.Names())
			return nil
		},
	}
}
