package cmd

import (
	"github.com/spf13/cobra"
)

// migrateSQLCmd applies the SQL schema migrations for the postgres backend
var migrateSQLCmd = &cobra.Command{
	Use:   "sql [database-url]",
	Short: "Create the SQL schema and apply pending migrations (defaults to DATABASE_URL)",
	Run:   cmdHandler.Migration.MigrateSQL,
}

func init() {
	migrateCmd.AddCommand(migrateSQLCmd)
}
