package sql

import "embed"

// Migrations holds the schema for each supported dialect under
// migrations/<dialect>/NNN_name.sql.
//
//go:embed migrations
var Migrations embed.FS
