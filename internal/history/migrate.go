package history

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func init() {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		panic(fmt.Sprintf("history: set goose dialect: %v", err))
	}
}

// runMigrations brings db up to the latest embedded schema version.
func runMigrations(db *sql.DB) error {
	return goose.Up(db, "migrations")
}
