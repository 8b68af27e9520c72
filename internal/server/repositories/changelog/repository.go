// Package changelog persists the authoritative sync state: an append-only
// change feed ordered by server sequence number, the current state of every
// record, and the per-operation push outcomes used for idempotent replays.
package changelog

import (
	"context"

	"github.com/ddanilov/podvault/internal/server/models"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// Repository is the storage contract shared by the PostgreSQL and in-memory
// implementations.
type Repository interface {
	// AppendChange appends one change to the feed and folds it into the
	// current-state table. Returns the assigned sequence number.
	AppendChange(ctx context.Context, ch *syncwire.Change) (int64, error)

	// SelectSince returns up to limit feed rows with seq > afterSeq, in
	// ascending seq order.
	SelectSince(ctx context.Context, afterSeq int64, limit int) ([]*models.LoggedChange, error)

	// GetRecord returns the current state of one record, tombstones
	// included. common.ErrNotFound when the record was never written.
	GetRecord(ctx context.Context, table, id string) (*syncwire.Record, error)

	// GetPushResult returns the recorded outcome for an operation id, or
	// common.ErrNotFound when the operation has not been applied yet.
	GetPushResult(ctx context.Context, operationID string) (*syncwire.PushResult, error)

	// SavePushResult records the outcome of an operation so a retried push
	// replays it instead of re-applying. An operation id that already has a
	// recorded outcome returns common.ErrDuplicateOperation, so a caller
	// that lost the insert race can roll back and replay the winner.
	SavePushResult(ctx context.Context, operationID string, res *syncwire.PushResult) error
}
