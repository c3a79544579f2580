package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/pipresencemon.yaml"

// NewRootCmd builds the CLI. Without a subcommand it runs the daemon.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pipresencemon",
		Short:         "Presence-driven process supervisor",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", configPathFromEnv(),
		"path to the YAML configuration (env PIPRESENCEMON_CONFIG)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newCheckConfigCmd(&configPath))
	root.AddCommand(newSensorCmd(&configPath))
	root.AddCommand(newDBCmd(&configPath))
	root.AddCommand(newVersionCmd())

	return root
}

// configPathFromEnv returns PIPRESENCEMON_CONFIG, or the default path.
func configPathFromEnv() string {
	if path := os.Getenv("PIPRESENCEMON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
