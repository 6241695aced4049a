package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"moneyfusion/internal/infrastructure/database"
)

func migrateCmd(c *cli) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the payments database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source == "" {
				source = c.cfg.MigrationsPath
			}
			applied, err := database.Migrate(source, c.cfg.GetDBMigrationConnectionString())
			if err != nil {
				return err
			}
			if applied {
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No new migrations.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Migration source URL (defaults to MIGRATIONS_PATH)")
	return cmd
}
