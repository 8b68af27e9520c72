// Package migrations embeds the PostgreSQL schema migrations for the sync
// server, applied with goose at startup.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
