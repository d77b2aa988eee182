package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eficia/eficia-api/internal/pkg/database"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	migrateDownCmd.Flags().IntP("steps", "n", 1, "Number of migrations to roll back")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)

		return database.MigrateUp(db)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")

		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)

		if err := database.MigrateDown(db, steps); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Rolled back %d migration(s)\n", steps)
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)

		version, dirty, err := database.MigrationVersion(db)
		if err != nil {
			return err
		}
		if dirty {
			fmt.Fprintf(os.Stdout, "version %d (dirty)\n", version)
			return nil
		}
		fmt.Fprintf(os.Stdout, "version %d\n", version)
		return nil
	},
}
