package main

import (
	"github.com/spf13/cobra"

	"github.com/astrate-platform/astrate/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "astrate",
		Short:         "Consume trigger events and fan them out to per-policy workers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the YAML config file; "+config.EnvPrefix+"* environment variables override it")

	cmd.AddCommand(newConsumeCmd(opts), newConfigCmd(opts))
	return cmd
}
