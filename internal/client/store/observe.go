package store

import (
	"context"

	"github.com/ddanilov/podvault/internal/client/models"
)

// Subscription is a live query. C first delivers the current result set,
// then a fresh snapshot after every committed write that touched the table.
// Rapid consecutive commits may coalesce into a single emission; a snapshot
// always reflects a fully committed state, never a partial transaction.
type Subscription struct {
	// C is closed on Unsubscribe or when the observing context ends.
	C <-chan []*models.Record

	cancel context.CancelFunc
}

// Unsubscribe stops the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() { s.cancel() }

type observer struct {
	table   string
	trigger chan struct{}
}

// Observe returns a subscription for table rows matching pred. The first
// emission is the current match set (possibly empty).
func (s *Store) Observe(ctx context.Context, table string, pred Predicate) *Subscription {
	ctx, cancel := context.WithCancel(ctx)

	obs := &observer{
		table: table,
		// cap 1: pending notifications coalesce instead of blocking writers
		trigger: make(chan struct{}, 1),
	}

	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs
	s.obsMu.Unlock()

	out := make(chan []*models.Record)

	go func() {
		defer func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
			close(out)
		}()

		// initial snapshot
		if !s.emit(ctx, table, pred, out) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-obs.trigger:
				if !s.emit(ctx, table, pred, out) {
					return
				}
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel}
}

// emit queries the committed snapshot and delivers it. Returns false when
// the subscription ended.
func (s *Store) emit(ctx context.Context, table string, pred Predicate, out chan<- []*models.Record) bool {
	snapshot, err := s.Query(ctx, table, pred)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error(ctx, "observer query failed", "table", table, "error", err)
		}
		return false
	}
	select {
	case out <- snapshot:
		return true
	case <-ctx.Done():
		return false
	}
}

// notify wakes observers of every touched table. Called after commit only.
func (s *Store) notify(touched map[string]struct{}) {
	if len(touched) == 0 {
		return
	}
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, obs := range s.observers {
		if _, ok := touched[obs.table]; !ok {
			continue
		}
		select {
		case obs.trigger <- struct{}{}:
		default:
			// a refresh is already pending; the next snapshot covers this commit
		}
	}
}
