// Command sdnsim runs the simulated software-defined network.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "sdnsim",
		Short:         "Simulated SDN controller, routers and end users over UDP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	cmd.AddCommand(
		newRunCommand(&configPath),
		newTableCommand(&configPath),
		newSampleCommand(&configPath),
	)
	return cmd
}
