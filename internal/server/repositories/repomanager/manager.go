// Package repomanager vends changelog repositories bound to a database
// handle and owns schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/ddanilov/podvault/internal/dbx"
	"github.com/ddanilov/podvault/internal/server/repositories/changelog"
)

// RepositoryManager abstracts the storage backend so the sync service can
// run over PostgreSQL or fully in memory.
type RepositoryManager interface {
	// Changelog returns a changelog.Repository bound to the provided DBTX.
	Changelog(db dbx.DBTX) changelog.Repository

	// RunMigrations brings the schema up to date.
	RunMigrations(ctx context.Context, db *sql.DB) error
}
