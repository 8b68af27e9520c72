package repomanager

import (
	"context"
	"database/sql"

	"github.com/ddanilov/podvault/internal/dbx"
	"github.com/ddanilov/podvault/internal/server/repositories/changelog"
)

// InMemoryRepositoryManager vends one shared in-memory repository and
// ignores the database handle. Used by handler tests and the "inmemory"
// DSN for local development.
type InMemoryRepositoryManager struct {
	changelog *changelog.InMemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{changelog: changelog.NewInMemoryRepository()}
}

func (m *InMemoryRepositoryManager) Changelog(db dbx.DBTX) changelog.Repository {
	return m.changelog
}

func (m *InMemoryRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	return nil
}
