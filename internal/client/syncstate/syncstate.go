// Package syncstate stores the durable pull cursor per sync scope. Cursor
// updates are expected to join the transaction that applies the pulled
// changes, so a crash can never separate "changes applied" from "cursor
// advanced".
package syncstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/dbx"
)

// Repository describes cursor persistence for the pull loop.
type Repository interface {
	// GetSyncState returns the state for scope; a zero state (empty token)
	// when the scope has never synced.
	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)

	// UpdateSyncState upserts the cursor for scope.
	UpdateSyncState(ctx context.Context, state *models.SyncState) error
}

// SQLiteRepository implements Repository over a dbx.DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// WithTx returns a copy bound to tx.
func (r *SQLiteRepository) WithTx(tx dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx}
}

func (r *SQLiteRepository) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	state := &models.SyncState{Scope: scope}
	err := r.db.QueryRowContext(ctx,
		`SELECT last_token, last_synced_at FROM sync_state WHERE scope=?`, scope).
		Scan(&state.LastToken, &state.LastSyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state [%s]: %w", scope, err)
	}
	return state, nil
}

func (r *SQLiteRepository) UpdateSyncState(ctx context.Context, state *models.SyncState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (scope, last_token, last_synced_at) VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			last_token = excluded.last_token,
			last_synced_at = excluded.last_synced_at
	`, state.Scope, state.LastToken, state.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("failed to update sync state [%s]: %w", state.Scope, err)
	}
	return nil
}
