package cli

import (
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	colorable "github.com/mattn/go-colorable"
	migrate "github.com/rubenv/sql-migrate"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/memovia/callkeeper/config"
)

const migrationsDir = "db/migrations"

type MigrateHandler struct {
	c *config.Config
}

func newMigrateHandler(c *config.Config) *MigrateHandler {
	return &MigrateHandler{c: c}
}

// databaseURL resolves the target database: an explicit argument wins,
// otherwise the configured DATABASE_URL is used.
func (h *MigrateHandler) databaseURL(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return h.c.DatabaseURL
}

// MigrateSQL applies the pending call_sessions schema migrations.
func (h *MigrateHandler) MigrateSQL(cmd *cobra.Command, args []string) {
	url := h.databaseURL(args)
	if url == "" {
		log.Error("no database url given and DATABASE_URL is not configured")
		os.Exit(2)
	}

	log.SetLevel(log.DebugLevel)
	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})
	log.SetOutput(colorable.NewColorableStdout())

	log.Infof("Applying SQL migrations from %s...", migrationsDir)

	db, err := sqlx.Open("postgres", url)
	if err != nil {
		log.Errorf("An error occurred while connecting to SQL: %s", err)
		os.Exit(1)
	}
	defer db.Close()

	// Check the database connection
	if err := db.Ping(); err != nil {
		log.Errorf("An error occurred while connecting to SQL: %s", err)
		os.Exit(1)
	}

	migrations := &migrate.FileMigrationSource{
		Dir: migrationsDir,
	}

	n, err := migrate.Exec(db.DB, "postgres", migrations, migrate.Up)
	if err != nil {
		log.Errorf("An error occurred while running the migrations: %s", err)
		os.Exit(1)
	}
	log.Infof("Migration successful! Applied a total of %d migrations.", n)
}
