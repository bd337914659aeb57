// Package urlrisk exposes repository level assets that are embedded into the
// binary, currently only the goose migration files.
package urlrisk

import "embed"

// Migrations holds the SQL migration files applied by the migrate command.
//
//go:embed migrations/*.sql
var Migrations embed.FS
