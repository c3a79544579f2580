// Package migrations embeds the SQL schema into the binary.
//
// Importing it for side effects registers the files with the database
// package:
//
//	import _ "github.com/nerrad567/pipresencemon/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/pipresencemon/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterSchema(files)
}
