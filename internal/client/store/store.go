// Package store implements the local embedded datastore: a transactional,
// row-oriented SQLite store with observable queries. Records of every logical
// table live in a single records table keyed by (table_name, id), with the
// domain fields kept as a JSON document and sync metadata alongside.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/dbx"
	"github.com/ddanilov/podvault/internal/logging"
)

// Predicate filters records in Query and Observe. A nil predicate matches
// every non-deleted record.
type Predicate func(*models.Record) bool

// Store is the local datastore. All writes go through Write, which runs the
// callback inside a single SQLite transaction and notifies observers after
// commit. Reads serve the last committed snapshot.
type Store struct {
	db     *sql.DB
	logger logging.Logger

	// writeMu serializes write transactions to avoid SQLite busy errors
	// under concurrent writers.
	writeMu sync.Mutex

	obsMu     sync.Mutex
	observers map[int]*observer
	nextObsID int

	now func() int64
}

// New wraps an open SQLite database. The schema must already be migrated.
func New(db *sql.DB, logger logging.Logger) *Store {
	return &Store{
		db:        db,
		logger:    logger.With("module", "store"),
		observers: make(map[int]*observer),
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// DB returns the underlying handle, for wiring repositories that live in the
// same database (outbox, sync state).
func (s *Store) DB() *sql.DB { return s.db }

// View is the surface available inside a Write callback. Everything done
// through a View belongs to one transaction: all-or-nothing, serializable
// with respect to other writes.
type View struct {
	tx      dbx.DBTX
	touched map[string]struct{}
	now     func() int64
}

// Tx exposes the transactional handle so sibling repositories (outbox,
// sync state) can join the same transaction.
func (v *View) Tx() dbx.DBTX { return v.tx }

// Write executes fn inside a single transaction. If fn returns an error or
// panics, nothing is applied. After a successful commit, observers of every
// touched table are notified.
func (s *Store) Write(ctx context.Context, fn func(ctx context.Context, v *View) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	view := &View{touched: make(map[string]struct{}), now: s.now}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		view.tx = tx
		return fn(ctx, view)
	})
	if err != nil {
		return err
	}

	s.notify(view.touched)
	return nil
}

// Get returns one record, tombstones included. common.ErrNotFound when the
// row does not exist.
func (v *View) Get(ctx context.Context, table, id string) (*models.Record, error) {
	return getRecord(ctx, v.tx, table, id)
}

// Put upserts a record exactly as given. Used by the sync-apply path, which
// decides the metadata itself (synced_at, needs_sync).
func (v *View) Put(ctx context.Context, rec *models.Record) error {
	if err := putRecord(ctx, v.tx, rec); err != nil {
		return err
	}
	v.touched[rec.Table] = struct{}{}
	return nil
}

// PutLocal upserts a record as a local application write: stamps updated_at,
// bumps the version and marks the record dirty so the next push picks it up.
func (v *View) PutLocal(ctx context.Context, rec *models.Record) error {
	rec.UpdatedAt = v.now()
	rec.Version++
	rec.NeedsSync = true
	return v.Put(ctx, rec)
}

// Delete tombstones a record locally. The row survives until the deletion
// has round-tripped through the server, preventing resurrection by a stale
// pull.
func (v *View) Delete(ctx context.Context, table, id string) error {
	rec, err := v.Get(ctx, table, id)
	if err != nil {
		return err
	}
	rec.Deleted = true
	return v.PutLocal(ctx, rec)
}

// Purge physically removes a row. Only for tombstones whose deletion has
// been confirmed by both sides; everything else must go through Delete.
func (v *View) Purge(ctx context.Context, table, id string) error {
	_, err := v.tx.ExecContext(ctx, `DELETE FROM records WHERE table_name=? AND id=?`, table, id)
	if err != nil {
		return fmt.Errorf("failed to purge record: %w", err)
	}
	v.touched[table] = struct{}{}
	return nil
}

// Query returns a point-in-time result inside the transaction.
func (v *View) Query(ctx context.Context, table string, pred Predicate) ([]*models.Record, error) {
	return queryRecords(ctx, v.tx, table, pred)
}

// Query returns a point-in-time result against the last committed snapshot.
func (s *Store) Query(ctx context.Context, table string, pred Predicate) ([]*models.Record, error) {
	return queryRecords(ctx, s.db, table, pred)
}

// Get reads one record from the last committed snapshot.
func (s *Store) Get(ctx context.Context, table, id string) (*models.Record, error) {
	return getRecord(ctx, s.db, table, id)
}

func getRecord(ctx context.Context, db dbx.DBTX, table, id string) (*models.Record, error) {
	query := `SELECT fields, updated_at, version, deleted, synced_at, needs_sync
		FROM records WHERE table_name=? AND id=?`
	row := db.QueryRowContext(ctx, query, table, id)

	rec := &models.Record{Table: table, ID: id}
	var fields []byte
	var deleted, needsSync int
	var syncedAt sql.NullInt64
	if err := row.Scan(&fields, &rec.UpdatedAt, &rec.Version, &deleted, &syncedAt, &needsSync); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode record fields: %w", err)
	}
	rec.Deleted = deleted != 0
	rec.NeedsSync = needsSync != 0
	if syncedAt.Valid {
		rec.SyncedAt = &syncedAt.Int64
	}
	return rec, nil
}

func putRecord(ctx context.Context, db dbx.DBTX, rec *models.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode record fields: %w", err)
	}
	var syncedAt sql.NullInt64
	if rec.SyncedAt != nil {
		syncedAt = sql.NullInt64{Int64: *rec.SyncedAt, Valid: true}
	}
	query := `INSERT INTO records (table_name, id, fields, updated_at, version, deleted, synced_at, needs_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at,
			version = excluded.version,
			deleted = excluded.deleted,
			synced_at = excluded.synced_at,
			needs_sync = excluded.needs_sync`
	_, err = db.ExecContext(ctx, query,
		rec.Table, rec.ID, fields, rec.UpdatedAt, rec.Version,
		boolToInt(rec.Deleted), syncedAt, boolToInt(rec.NeedsSync))
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func queryRecords(ctx context.Context, db dbx.DBTX, table string, pred Predicate) ([]*models.Record, error) {
	query := `SELECT id, fields, updated_at, version, deleted, synced_at, needs_sync
		FROM records WHERE table_name=? AND deleted=0 ORDER BY id`
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Record, 0)
	for rows.Next() {
		rec := &models.Record{Table: table}
		var fields []byte
		var deleted, needsSync int
		var syncedAt sql.NullInt64
		if err := rows.Scan(&rec.ID, &fields, &rec.UpdatedAt, &rec.Version, &deleted, &syncedAt, &needsSync); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode record fields: %w", err)
		}
		rec.Deleted = deleted != 0
		rec.NeedsSync = needsSync != 0
		if syncedAt.Valid {
			rec.SyncedAt = &syncedAt.Int64
		}
		if pred == nil || pred(rec) {
			result = append(result, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
