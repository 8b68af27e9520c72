package engine

import (
	"context"
	"fmt"

	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/client/store"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// push drains the outbox in batches. Draining is an explicit loop rather
// than recursion, so a large backlog cannot grow the stack. A round that
// acknowledges nothing ends the drain: items that just failed are left for
// the next scheduled sync instead of being hammered in a hot loop.
func (e *Engine) push(ctx context.Context) error {
	if !e.pushing.CompareAndSwap(false, true) {
		e.logger.Debug(ctx, "push already in flight, skipping")
		return nil
	}
	defer e.pushing.Store(false)

	// items stranded in sending by a crash or an aborted batch go back in
	// line first, so a durably queued mutation is never silently dropped
	if err := e.outbox.ReleaseSending(ctx); err != nil {
		return err
	}

	for {
		items, err := e.outbox.GetPendingItems(ctx, e.batchSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		ids := make([]string, len(items))
		for i, item := range items {
			ids[i] = item.ID
		}
		if err := e.outbox.MarkAsSending(ctx, ids); err != nil {
			return err
		}

		results, err := e.net.PushChanges(ctx, items)
		if err != nil {
			// transport-level failure: the whole batch goes back for retry
			if markErr := e.outbox.MarkAsError(ctx, ids, err.Error()); markErr != nil {
				e.logger.Error(ctx, "failed to mark batch as errored", "error", markErr)
			}
			return err
		}

		acked := 0
		for i, res := range results {
			item := items[i]
			switch {
			case res.Success:
				err = e.confirmPush(ctx, item, res)
				if err == nil {
					acked++
				}
			case res.Permanent:
				e.logger.Warn(ctx, "outbox item rejected permanently",
					"type", item.Type, "operation_id", item.OperationID, "error", res.Error)
				err = e.outbox.MarkAsFailed(ctx, []string{item.ID}, res.Error)
			default:
				err = e.outbox.MarkAsError(ctx, []string{item.ID}, res.Error)
			}
			if err != nil {
				// put the untouched remainder of the batch back in line
				if relErr := e.outbox.ReleaseSending(ctx); relErr != nil {
					e.logger.Error(ctx, "failed to release aborted batch", "error", relErr)
				}
				return err
			}
		}

		e.logger.Debug(ctx, "pushed batch", "items", len(items), "acked", acked)

		if acked == 0 {
			return nil
		}
		has, err := e.outbox.HasPendingItems(ctx)
		if err != nil || !has {
			return err
		}
	}
}

// confirmPush removes the acknowledged item and, when the server returned
// an authoritative record, overwrites the local row with it: the server
// may have applied derived fields the client does not compute. Both happen
// in one transaction: an acknowledged item never survives a crash.
func (e *Engine) confirmPush(ctx context.Context, item *models.OutboxItem, res syncwire.PushResult) error {
	return e.store.Write(ctx, func(ctx context.Context, v *store.View) error {
		if err := e.outbox.WithTx(v.Tx()).Remove(ctx, []string{item.ID}); err != nil {
			return err
		}
		if res.Record == nil {
			return nil
		}
		rec := models.RecordFromWire(*res.Record)
		now := e.now()
		rec.SyncedAt = &now
		if err := v.Put(ctx, rec); err != nil {
			return fmt.Errorf("failed to apply authoritative record: %w", err)
		}
		return nil
	})
}
