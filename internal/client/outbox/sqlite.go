package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ddanilov/podvault/internal/client/models"
	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/dbx"
	"github.com/google/uuid"
)

// DefaultMaxRetries bounds automatic retries before an item is frozen.
const DefaultMaxRetries = 5

// SQLiteRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx),
// so outbox updates can join the same transaction as record writes.
type SQLiteRepository struct {
	db         dbx.DBTX
	maxRetries int
	now        func() int64
}

// NewSQLiteRepository returns a repository bound to db. maxRetries <= 0
// selects DefaultMaxRetries.
func NewSQLiteRepository(db dbx.DBTX, maxRetries int) *SQLiteRepository {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &SQLiteRepository{
		db:         db,
		maxRetries: maxRetries,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// WithTx returns a copy of the repository bound to tx, keeping configuration.
func (r *SQLiteRepository) WithTx(tx dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: tx, maxRetries: r.maxRetries, now: r.now}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, item *models.OutboxItem) (*models.OutboxItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.OutboxStatusPending
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = r.now()
	}

	query := `INSERT INTO outbox (id, type, payload, operation_id, status, retry_count, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(operation_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		item.ID, item.Type, string(item.Payload), item.OperationID,
		item.Status, item.RetryCount, item.ErrorMessage, item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue outbox item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return item, nil
	}
	// the operation was already enqueued; hand back the existing item
	return r.getByOperationID(ctx, item.OperationID)
}

func (r *SQLiteRepository) getByOperationID(ctx context.Context, operationID string) (*models.OutboxItem, error) {
	query := `SELECT id, type, payload, operation_id, status, retry_count, error_message, created_at
		FROM outbox WHERE operation_id=?`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, operationID))
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox item: %w", err)
	}
	return item, nil
}

// GetByID returns one item regardless of status.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.OutboxItem, error) {
	query := `SELECT id, type, payload, operation_id, status, retry_count, error_message, created_at
		FROM outbox WHERE id=?`
	item, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox item: %w", err)
	}
	return item, nil
}

func (r *SQLiteRepository) GetPendingItems(ctx context.Context, limit int) ([]*models.OutboxItem, error) {
	query := `SELECT id, type, payload, operation_id, status, retry_count, error_message, created_at
		FROM outbox WHERE status=? ORDER BY created_at, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, models.OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}
	defer rows.Close()

	var result []*models.OutboxItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkAsSending(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE outbox SET status=? WHERE id IN (%s)`, placeholders(len(ids)))
	args := append([]any{models.OutboxStatusSending}, toAny(ids)...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark items as sending: %w", err)
	}
	return nil
}

// ReleaseSending flips every sending item back to pending. Only the push
// loop marks items as sending and it runs single-flight, so any sending row
// observed outside a batch is a leftover from a crash or an aborted batch.
func (r *SQLiteRepository) ReleaseSending(ctx context.Context) error {
	query := `UPDATE outbox SET status=? WHERE status=?`
	if _, err := r.db.ExecContext(ctx, query, models.OutboxStatusPending, models.OutboxStatusSending); err != nil {
		return fmt.Errorf("failed to release sending items: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkAsError(ctx context.Context, ids []string, message string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE outbox SET
			retry_count = retry_count + 1,
			error_message = ?,
			status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END
		WHERE id IN (%s)`, placeholders(len(ids)))
	args := append([]any{message, r.maxRetries, models.OutboxStatusError, models.OutboxStatusPending}, toAny(ids)...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark items as errored: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkAsFailed(ctx context.Context, ids []string, message string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE outbox SET status=?, error_message=? WHERE id IN (%s)`, placeholders(len(ids)))
	args := append([]any{models.OutboxStatusError, message}, toAny(ids)...)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark items as failed: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM outbox WHERE id IN (%s)`, placeholders(len(ids)))
	if _, err := r.db.ExecContext(ctx, query, toAny(ids)...); err != nil {
		return fmt.Errorf("failed to remove outbox items: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Retry(ctx context.Context, id string) error {
	query := `UPDATE outbox SET status=?, retry_count=0, error_message='' WHERE id=? AND status=?`
	err := dbx.ExecOne(ctx, r.db, query, models.OutboxStatusPending, id, models.OutboxStatusError)
	if err != nil {
		return fmt.Errorf("failed to retry outbox item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) HasPendingItems(ctx context.Context) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM outbox WHERE status=? LIMIT 1`, models.OutboxStatusPending).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check pending items: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.OutboxItem, error) {
	item := &models.OutboxItem{}
	var payload string
	err := row.Scan(&item.ID, &item.Type, &payload, &item.OperationID,
		&item.Status, &item.RetryCount, &item.ErrorMessage, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	item.Payload = []byte(payload)
	return item, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
