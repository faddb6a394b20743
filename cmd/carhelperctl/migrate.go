package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/carhelperai/carhelper/internal/store"
	"github.com/spf13/cobra"
)

var errNoDatabaseURL = errors.New("database URL required: pass --database-url or set DATABASE_URL")

type dbFlags struct {
	url string
	dir string
}

func (f *dbFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.url, "database-url", "", "postgres connection URL (default $DATABASE_URL)")
}

func (f *dbFlags) databaseURL() (string, error) {
	if f.url != "" {
		return f.url, nil
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v, nil
	}
	return "", errNoDatabaseURL
}

func newMigrateCmd() *cobra.Command {
	flags := &dbFlags{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	flags.register(cmd)
	cmd.PersistentFlags().StringVar(&flags.dir, "dir", "migrations", "directory holding the migration files")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := flags.databaseURL()
			if err != nil {
				return err
			}
			if err := store.RunMigrations(url, flags.dir); err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), url, flags.dir)
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := flags.databaseURL()
			if err != nil {
				return err
			}
			if err := store.RollbackMigrations(url, flags.dir, steps); err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), url, flags.dir)
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to revert")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := flags.databaseURL()
			if err != nil {
				return err
			}
			return printVersion(cmd.OutOrStdout(), url, flags.dir)
		},
	})

	return cmd
}

func printVersion(out io.Writer, url, dir string) error {
	v, dirty, err := store.MigrationVersion(url, dir)
	if err != nil {
		return err
	}
	if v == 0 {
		fmt.Fprintln(out, "schema version: none")
		return nil
	}
	fmt.Fprintf(out, "schema version: %d", v)
	if dirty {
		fmt.Fprint(out, " (dirty)")
	}
	fmt.Fprintln(out)
	return nil
}
