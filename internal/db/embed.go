package db

import "embed"

// EmbedMigrations holds the budget schema migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
