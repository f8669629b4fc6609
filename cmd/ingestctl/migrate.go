package main

import (
	"github.com/spf13/cobra"

	"github.com/gyeh/ingestflow/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.Close()

	if err := db.ApplyMigrations(a.ctx, a.db, a.log); err != nil {
		a.fatal(err, "migration failed")
	}
	return nil
}
