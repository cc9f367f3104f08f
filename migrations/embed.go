// Package migrations embeds the archive schema so the binary can migrate
// a fresh database without SQL files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory at its root; pass "." as
// the directory to database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS holding the migrations.
const Dir = "."
