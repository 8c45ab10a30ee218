package db

import "embed"

// EmbedMigrations holds the audit-trail schema migrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
