// Package engine orchestrates synchronization: it drains the outbox through
// the network manager, pulls remote changes since the durable cursor,
// reconciles them through the conflict resolver into the local store, and
// runs a periodic plus event-driven schedule with an optional realtime
// subscription.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ddanilov/podvault/internal/client/conflict"
	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/client/netman"
	"github.com/ddanilov/podvault/internal/client/outbox"
	"github.com/ddanilov/podvault/internal/client/store"
	"github.com/ddanilov/podvault/internal/client/syncstate"
	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// Options tunes the engine. Zero values select defaults.
type Options struct {
	Scope         string
	PushBatchSize int
	SyncInterval  time.Duration
	Realtime      bool
}

const (
	defaultPushBatchSize = 50
	defaultSyncInterval  = 30 * time.Second
)

// Engine coordinates the pull and push loops over one local database.
//
// Each direction carries a single-flight guard: a Sync that finds a
// direction already in flight skips it (not an error), so pull and push can
// overlap each other but never themselves.
type Engine struct {
	store     *store.Store
	outbox    *outbox.SQLiteRepository
	syncState *syncstate.SQLiteRepository
	resolver  *conflict.Resolver
	net       netman.Manager
	logger    logging.Logger

	scope     string
	batchSize int
	interval  time.Duration
	realtime  bool

	pulling atomic.Bool
	pushing atomic.Bool

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	sub     netman.Subscription
	wg      sync.WaitGroup

	now func() int64
}

// New wires an engine from its collaborators. Nothing starts until
// Initialize or Sync is called.
func New(
	st *store.Store,
	ob *outbox.SQLiteRepository,
	ss *syncstate.SQLiteRepository,
	resolver *conflict.Resolver,
	net netman.Manager,
	logger logging.Logger,
	opts Options,
) *Engine {
	if opts.Scope == "" {
		opts.Scope = models.DefaultScope
	}
	if opts.PushBatchSize <= 0 {
		opts.PushBatchSize = defaultPushBatchSize
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = defaultSyncInterval
	}
	return &Engine{
		store:     st,
		outbox:    ob,
		syncState: ss,
		resolver:  resolver,
		net:       net,
		logger:    logger.With("module", "engine"),
		scope:     opts.Scope,
		batchSize: opts.PushBatchSize,
		interval:  opts.SyncInterval,
		realtime:  opts.Realtime,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// Sync runs one pull and one push concurrently. Directions already in
// flight are skipped. The first error of either direction is returned.
func (e *Engine) Sync(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.pull(ctx) })
	g.Go(func() error { return e.push(ctx) })
	return g.Wait()
}

// Submit applies a local mutation and enqueues its outbox intent in a
// single transaction, so "written locally" and "queued for sync" can never
// diverge.
func (e *Engine) Submit(ctx context.Context, rec *models.Record, item *models.OutboxItem) error {
	return e.store.Write(ctx, func(ctx context.Context, v *store.View) error {
		if err := v.PutLocal(ctx, rec); err != nil {
			return err
		}
		_, err := e.outbox.WithTx(v.Tx()).Enqueue(ctx, item)
		return err
	})
}

// RetryOutboxItem resets a permanently failed item and schedules another
// push round. Intended for user-triggered retries.
func (e *Engine) RetryOutboxItem(ctx context.Context, id string) error {
	if err := e.outbox.Retry(ctx, id); err != nil {
		return err
	}
	return e.push(ctx)
}

// Initialize performs one sync, then arms the periodic timer and, when
// realtime is enabled, opens the server-push subscription. Failures of the
// initial sync are logged, not fatal: the timer keeps trying.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	if err := e.Sync(ctx); err != nil {
		e.logger.Warn(ctx, "initial sync failed", "error", err)
	}

	e.wg.Add(1)
	go e.run(ctx)

	if e.realtime {
		sub, err := e.net.SubscribeToChanges(ctx, func(change syncwire.Change) {
			e.onRealtimeChange(ctx, change)
		})
		if err != nil {
			e.logger.Warn(ctx, "realtime subscription failed, relying on periodic pulls", "error", err)
		} else {
			e.mu.Lock()
			e.sub = sub
			e.mu.Unlock()
		}
	}

	return nil
}

// run is the periodic scheduler. One failed tick never cancels future
// ticks.
func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.Sync(ctx); err != nil {
				e.logger.Error(ctx, "periodic sync failed", "error", err)
			}
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the schedule and the realtime subscription, then waits for
// in-flight work to finish. Safe to call while a pull or push is mid-flight
// and safe to call twice.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	e.wg.Wait()
}
