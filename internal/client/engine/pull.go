package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ddanilov/podvault/internal/client/conflict"
	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/client/store"
	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// pull fetches and applies remote changes page by page until the server has
// no more. Each page is applied and the cursor advanced inside one local
// transaction, so a crash between the two is impossible and readers never
// observe a partially-applied batch.
func (e *Engine) pull(ctx context.Context) error {
	if !e.pulling.CompareAndSwap(false, true) {
		// a pull is already in flight; skipping is not an error
		e.logger.Debug(ctx, "pull already in flight, skipping")
		return nil
	}
	defer e.pulling.Store(false)

	for {
		state, err := e.syncState.GetSyncState(ctx, e.scope)
		if err != nil {
			return err
		}

		cs, err := e.net.PullChanges(ctx, state.LastToken)
		if err != nil {
			return err
		}
		if len(cs.Changes) == 0 {
			return nil
		}

		err = e.store.Write(ctx, func(ctx context.Context, v *store.View) error {
			for _, change := range cs.Changes {
				if err := e.applyChange(ctx, v, change); err != nil {
					return fmt.Errorf("failed to apply change %s/%s: %w", change.Table, change.Record.ID, err)
				}
			}
			return e.syncState.WithTx(v.Tx()).UpdateSyncState(ctx, &models.SyncState{
				Scope:        e.scope,
				LastToken:    cs.NextToken,
				LastSyncedAt: e.now(),
			})
		})
		if err != nil {
			return err
		}

		e.logger.Debug(ctx, "applied pull page",
			"scope", e.scope, "changes", len(cs.Changes), "token", cs.NextToken)

		if !cs.HasMore {
			return nil
		}
		// known work remains: page again immediately, no backoff
	}
}

// onRealtimeChange applies one server-pushed change in its own
// single-record transaction. The same applyChange routine serves both the
// realtime and the pull path, so a change delivered by both commutes to the
// same final state.
func (e *Engine) onRealtimeChange(ctx context.Context, change syncwire.Change) {
	err := e.store.Write(ctx, func(ctx context.Context, v *store.View) error {
		return e.applyChange(ctx, v, change)
	})
	if err != nil {
		e.logger.Error(ctx, "failed to apply realtime change",
			"table", change.Table, "id", change.Record.ID, "error", err)
	}
}

// applyChange reconciles one remote change into the local store.
//
// Deletes tombstone the local row; a delete confirming an already-clean
// local tombstone purges the row for good. Inserts and updates create the
// record when absent; when a dirty local copy actually diverges, the
// conflict resolver decides, and the result stays dirty only if the server
// does not yet know that exact state.
func (e *Engine) applyChange(ctx context.Context, v *store.View, change syncwire.Change) error {
	local, err := v.Get(ctx, change.Table, change.Record.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	found := err == nil

	if change.Operation == syncwire.OpDelete {
		if !found {
			// nothing to delete and nothing to resurrect
			return nil
		}
		if local.Deleted && !local.NeedsSync {
			// both sides confirmed: the tombstone has served its purpose
			return v.Purge(ctx, change.Table, change.Record.ID)
		}
		now := e.now()
		return v.Put(ctx, &models.Record{
			Table:     change.Table,
			ID:        change.Record.ID,
			Fields:    local.Fields,
			UpdatedAt: change.Timestamp,
			Version:   change.Version,
			Deleted:   true,
			SyncedAt:  &now,
		})
	}

	// INSERT / UPDATE
	if !found {
		rec := models.RecordFromWire(change.Record)
		rec.Table = change.Table
		now := e.now()
		rec.SyncedAt = &now
		return v.Put(ctx, rec)
	}

	resolved := change.Record
	stillDirty := false
	if local.NeedsSync && conflict.HasConflict(local.Wire(), change.Record) {
		resolved = e.resolver.Resolve(change.Table, local.Wire(), change.Record)
		// the result stays dirty unless it is exactly the server's copy
		stillDirty = !reflect.DeepEqual(resolved, change.Record)
	}

	rec := models.RecordFromWire(resolved)
	rec.Table = change.Table
	rec.ID = change.Record.ID
	rec.NeedsSync = stillDirty
	now := e.now()
	rec.SyncedAt = &now
	return v.Put(ctx, rec)
}
