package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/pipresencemon/internal/history"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/config"
	"github.com/nerrad567/pipresencemon/internal/infrastructure/database"
)

func newDBCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect and maintain the presence history database",
	}

	cmd.AddCommand(newDBStatusCmd(configPath))
	cmd.AddCommand(newDBMigrateCmd(configPath))
	cmd.AddCommand(newDBRollbackCmd(configPath))
	cmd.AddCommand(newDBPruneCmd(configPath))
	return cmd
}

// openHistoryDB opens the database named by the configuration. It refuses
// when history is disabled so maintenance never creates a stray file.
func openHistoryDB(configPath string) (*config.Config, *database.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Database.Enabled {
		return nil, nil, fmt.Errorf("database is disabled in %s", configPath)
	}
	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, db, nil
}

func newDBStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List schema migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openHistoryDB(*configPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-only

			status, err := db.Migrator().Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			pending := 0
			for _, s := range status {
				state := "applied " + s.AppliedAt.Local().Format(time.DateTime)
				switch {
				case s.Missing:
					state = warnStyle.Render("applied, not in this binary")
				case !s.Applied():
					state = warnStyle.Render("pending")
					pending++
				}
				fmt.Fprintf(out, "%s  %-24s %s\n", s.Version, s.Name, state)
			}
			fmt.Fprintf(out, "%s: %d migrations, %d pending\n", db.Path(), len(status), pending)
			return nil
		},
	}
}

func newDBMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openHistoryDB(*configPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // each migration commits on its own

			applied, err := db.Migrator().Up(cmd.Context())
			printMigrations(cmd.OutOrStdout(), "applied", applied)
			return err
		},
	}
}

func newDBRollbackCmd(configPath *string) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recent schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := openHistoryDB(*configPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // each rollback commits on its own

			reverted, err := db.Migrator().Down(cmd.Context(), steps)
			printMigrations(cmd.OutOrStdout(), "reverted", reverted)
			return err
		},
	}

	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to revert")
	return cmd
}

func newDBPruneCmd(configPath *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := openHistoryDB(*configPath)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // delete already committed

			if days == 0 {
				days = cfg.Database.RetentionDays
			}
			if days <= 0 {
				return errors.New("no retention period: pass --days or set database.retention_days")
			}

			if err := db.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			before := time.Now().AddDate(0, 0, -days)
			n, err := history.NewSQLiteRepository(db.DB).Prune(cmd.Context(), before)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d events older than %s\n", n, before.Format(time.DateTime))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "keep this many days of history (default database.retention_days)")
	return cmd
}

func printMigrations(w io.Writer, verb string, ms []database.Migration) {
	if len(ms) == 0 {
		fmt.Fprintf(w, "nothing %s\n", verb)
		return
	}
	for _, m := range ms {
		fmt.Fprintf(w, "%s %s_%s\n", verb, m.Version, m.Name)
	}
}
