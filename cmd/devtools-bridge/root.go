package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/devtools-bridge/config.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "devtools-bridge",
		Short:         "Shake gesture and log event bridge for the developer menu",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// configPath resolves --config, then DEVBRIDGE_CONFIG, then the default.
func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("DEVBRIDGE_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}
