// Package netman is the transport-facing adapter of the sync engine: it
// pulls changesets since a cursor, pushes outbox batches and exposes a
// push-based subscription to server-originated changes. The engine treats
// tokens and payloads as opaque; everything protocol-specific lives here.
package netman

import (
	"context"

	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// Manager is the engine's view of the network.
type Manager interface {
	// PullChanges fetches records updated after lastToken, oldest first,
	// capped at the server page size. An empty lastToken means "from the
	// beginning".
	PullChanges(ctx context.Context, lastToken string) (*syncwire.ChangeSet, error)

	// PushChanges transmits a batch of outbox items and returns one result
	// per item, in order. A partial-batch failure never blocks the
	// successes; only a transport-level failure of the whole call returns
	// an error.
	PushChanges(ctx context.Context, items []*models.OutboxItem) ([]syncwire.PushResult, error)

	// SubscribeToChanges opens a realtime channel and invokes cb for every
	// server-pushed mutation until Unsubscribe or context cancellation.
	SubscribeToChanges(ctx context.Context, cb func(syncwire.Change)) (Subscription, error)
}

// Subscription is a handle to an open realtime channel.
type Subscription interface {
	Unsubscribe()
}

// TokenFunc supplies the bearer token attached to every request.
type TokenFunc func(ctx context.Context) (string, error)
