// Package migrations embeds the goose migrations of the experimentation schema.
package migrations

import "embed"

// FS holds the SQL migrations at its root; pass "." as the directory to pg.Migrate.
//
//go:embed *.sql
var FS embed.FS
