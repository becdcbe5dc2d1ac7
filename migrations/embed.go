// Package migrations embeds the relay's SQL migration files into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/austin-relay/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations for database.DB.Migrate.
func Source() database.MigrationSource {
	return database.MigrationSource{FS: files, Dir: "."}
}
