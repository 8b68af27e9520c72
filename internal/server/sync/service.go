// Package sync implements the server side of the protocol: paged pulls over
// the change feed and idempotent, per-item pushes.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	gosync "sync"
	"time"

	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/dbx"
	"github.com/ddanilov/podvault/internal/logging"
	"github.com/ddanilov/podvault/internal/server/models"
	"github.com/ddanilov/podvault/internal/server/repositories/changelog"
	"github.com/ddanilov/podvault/internal/server/repositories/repomanager"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// Service applies pushed mutations to the changelog and serves pull pages.
//
// OnAppend, when set, is invoked after each successfully committed change,
// outside the transaction. The HTTP layer uses it to fan changes out to
// realtime subscribers.
type Service struct {
	db       *sql.DB // nil when the manager is in-memory
	m        repomanager.RepositoryManager
	logger   logging.Logger
	OnAppend func(models.LoggedChange)

	// the in-memory repository cannot roll back, so applies against it are
	// serialized instead
	memMu gosync.Mutex

	now func() int64
}

func New(db *sql.DB, m repomanager.RepositoryManager, logger logging.Logger) *Service {
	return &Service{
		db:     db,
		m:      m,
		logger: logger.With("module", "sync"),
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// transact runs fn inside a database transaction, or directly against the
// shared repository when running without a database.
func (s *Service) transact(ctx context.Context, fn func(ctx context.Context, repo changelog.Repository) error) error {
	if s.db == nil {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		return fn(ctx, s.m.Changelog(nil))
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, s.m.Changelog(tx))
	})
}

// Pull returns up to limit changes after the given cursor token. An empty
// token starts from the beginning of the feed. The returned NextToken echoes
// the request token when the page is empty, so cursors never move backwards.
func (s *Service) Pull(ctx context.Context, token string, limit int) (*syncwire.ChangeSet, error) {
	afterSeq := int64(0)
	if token != "" {
		seq, err := strconv.ParseInt(token, 10, 64)
		if err != nil || seq < 0 {
			return nil, common.ErrInvalidToken
		}
		afterSeq = seq
	}

	rows, err := s.m.Changelog(s.db).SelectSince(ctx, afterSeq, limit)
	if err != nil {
		return nil, err
	}

	cs := &syncwire.ChangeSet{
		Changes:   make([]syncwire.Change, 0, len(rows)),
		NextToken: token,
		HasMore:   len(rows) == limit,
	}
	for _, row := range rows {
		cs.Changes = append(cs.Changes, row.Change)
	}
	if len(rows) > 0 {
		cs.NextToken = strconv.FormatInt(rows[len(rows)-1].Seq, 10)
	}
	return cs, nil
}

// Push applies a batch of items. Results are positional: one per item, in
// order. Each item runs in its own transaction, so one bad item never sinks
// the batch, and an operation id seen before replays its recorded outcome.
func (s *Service) Push(ctx context.Context, deviceID string, items []syncwire.PushItem) ([]syncwire.PushResult, error) {
	results := make([]syncwire.PushResult, 0, len(items))
	var appended []models.LoggedChange

	for _, item := range items {
		res, logged := s.applyItem(ctx, deviceID, item)
		results = append(results, res)
		if logged != nil {
			appended = append(appended, *logged)
		}
	}

	if s.OnAppend != nil {
		for _, lc := range appended {
			s.OnAppend(lc)
		}
	}
	return results, nil
}

func (s *Service) applyItem(ctx context.Context, deviceID string, item syncwire.PushItem) (syncwire.PushResult, *models.LoggedChange) {
	res := syncwire.PushResult{OperationID: item.OperationID}
	var logged *models.LoggedChange

	err := s.transact(ctx, func(ctx context.Context, repo changelog.Repository) error {
		stored, err := repo.GetPushResult(ctx, item.OperationID)
		if err == nil {
			s.logger.Debug(ctx, "replaying recorded push result", "operation_id", item.OperationID)
			res = *stored
			return nil
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		ch, err := s.buildChange(ctx, repo, deviceID, item)
		if err != nil {
			if !isRejection(err) {
				return err
			}
			// validation failure: recorded so a replayed push gets the
			// same verdict without re-validating
			res.Error = err.Error()
			res.Permanent = true
			return repo.SavePushResult(ctx, item.OperationID, &res)
		}

		seq, err := repo.AppendChange(ctx, ch)
		if err != nil {
			return err
		}
		res.Success = true
		res.Record = &ch.Record
		logged = &models.LoggedChange{Seq: seq, Change: *ch}
		return repo.SavePushResult(ctx, item.OperationID, &res)
	})
	if errors.Is(err, common.ErrDuplicateOperation) {
		// a concurrent push recorded this operation first; our transaction
		// rolled back, so replay the winner's outcome
		stored, getErr := s.m.Changelog(s.db).GetPushResult(ctx, item.OperationID)
		if getErr == nil {
			return *stored, nil
		}
		err = getErr
	}
	if err != nil {
		// transient: nothing recorded, the client retries the item
		s.logger.Error(ctx, "failed to apply push item",
			"operation_id", item.OperationID, "error", err)
		return syncwire.PushResult{OperationID: item.OperationID, Error: err.Error()}, nil
	}
	return res, logged
}

// isRejection reports whether err is a validation verdict rather than an
// infrastructure failure.
func isRejection(err error) bool {
	return errors.Is(err, common.ErrUnknownItemType) ||
		errors.Is(err, common.ErrInvalidPayload) ||
		errors.Is(err, common.ErrVersionConflict)
}
