package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is the registry every migration file registers itself with.
var Migrations = migrate.NewMigrations()
