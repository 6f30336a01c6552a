package sqlite

import "embed"

// Migrations holds the SQLite schema, applied by database.Migrator
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations
const MigrationsDir = "migrations"
