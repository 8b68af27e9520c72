// Package outbox persists pending local mutations until the server
// acknowledges them. Each item carries an idempotency key so retried pushes
// never double-apply.
package outbox

import (
	"context"

	"github.com/ddanilov/podvault/internal/client/models"
)

// Repository describes the durable queue operations used by writers and the
// push loop.
type Repository interface {
	// Enqueue inserts item. If an item with the same OperationID already
	// exists, the existing item is returned unchanged (idempotent enqueue).
	Enqueue(ctx context.Context, item *models.OutboxItem) (*models.OutboxItem, error)

	// GetPendingItems returns up to limit pending items, oldest first.
	// Items frozen in the error status are excluded.
	GetPendingItems(ctx context.Context, limit int) ([]*models.OutboxItem, error)

	// MarkAsSending flips the given items to the sending status.
	MarkAsSending(ctx context.Context, ids []string) error

	// ReleaseSending reverts every sending item back to pending without
	// consuming retry budget. Called before a drain round so items stranded
	// by a crash or an aborted batch get retransmitted.
	ReleaseSending(ctx context.Context) error

	// MarkAsError records a transient failure: increments the retry count
	// and reverts to pending, or freezes the item at error once the retry
	// budget is exhausted.
	MarkAsError(ctx context.Context, ids []string, message string) error

	// MarkAsFailed freezes items at error immediately, bypassing the retry
	// budget. Used for permanent rejections (validation failures).
	MarkAsFailed(ctx context.Context, ids []string, message string) error

	// Remove deletes acknowledged items.
	Remove(ctx context.Context, ids []string) error

	// Retry resets one frozen item back to pending with a fresh retry
	// budget. Intended for user-triggered retries.
	Retry(ctx context.Context, id string) error

	// HasPendingItems reports whether another drain round is needed.
	HasPendingItems(ctx context.Context) (bool, error)
}
