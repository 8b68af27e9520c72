package changelog

import (
	"context"
	"sync"

	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/server/models"
	"github.com/ddanilov/podvault/internal/syncwire"
)

type recordKey struct {
	table string
	id    string
}

// InMemoryRepository is a map-backed Repository for handler tests and local
// development. Safe for concurrent use.
type InMemoryRepository struct {
	mu      sync.Mutex
	seq     int64
	feed    []*models.LoggedChange
	records map[recordKey]syncwire.Record
	dedup   map[string]syncwire.PushResult
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[recordKey]syncwire.Record),
		dedup:   make(map[string]syncwire.PushResult),
	}
}

func (r *InMemoryRepository) AppendChange(ctx context.Context, ch *syncwire.Change) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.feed = append(r.feed, &models.LoggedChange{Seq: r.seq, Change: *ch})

	rec := ch.Record
	rec.Deleted = ch.Operation == syncwire.OpDelete
	r.records[recordKey{ch.Record.Table, ch.Record.ID}] = rec

	return r.seq, nil
}

func (r *InMemoryRepository) SelectSince(ctx context.Context, afterSeq int64, limit int) ([]*models.LoggedChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*models.LoggedChange
	for _, item := range r.feed {
		if item.Seq <= afterSeq {
			continue
		}
		result = append(result, item)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (r *InMemoryRepository) GetRecord(ctx context.Context, table, id string) (*syncwire.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[recordKey{table, id}]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &rec, nil
}

func (r *InMemoryRepository) GetPushResult(ctx context.Context, operationID string) (*syncwire.PushResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.dedup[operationID]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &res, nil
}

func (r *InMemoryRepository) SavePushResult(ctx context.Context, operationID string, res *syncwire.PushResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.dedup[operationID]; ok {
		return common.ErrDuplicateOperation
	}
	r.dedup[operationID] = *res
	return nil
}
