package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pipresencemon/internal/infrastructure/config"
)

func newCheckConfigCmd(configPath *string) *cobra.Command {
	var printSummary bool

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and report warnings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, w := range cfg.Warnings() {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("warning: "+w))
			}

			if printSummary {
				summary, err := cfg.Summary()
				if err != nil {
					return err
				}
				fmt.Fprint(out, summary)
			}

			fmt.Fprintf(out, "%s is valid: %d occupancy and %d vacancy commands\n",
				*configPath, len(cfg.Supervisor.OnOccupancy), len(cfg.Supervisor.OnVacancy))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&printSummary, "print", "p", false, "print the effective configuration with secrets masked")
	return cmd
}
