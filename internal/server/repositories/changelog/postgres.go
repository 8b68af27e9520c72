package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/dbx"
	"github.com/ddanilov/podvault/internal/server/models"
	"github.com/ddanilov/podvault/internal/syncwire"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or
// *sql.Tx). Records and results are stored as JSONB documents.
type PostgresRepository struct {
	db  dbx.DBTX
	now func() int64
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db, now: func() int64 { return time.Now().UnixMilli() }}
}

func (r *PostgresRepository) AppendChange(ctx context.Context, ch *syncwire.Change) (int64, error) {
	record, err := json.Marshal(ch.Record)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}

	var seq int64
	query := `INSERT INTO changes (table_name, operation, record, ts, version)
		VALUES ($1, $2, $3, $4, $5) RETURNING server_seq`
	err = r.db.QueryRowContext(ctx, query,
		ch.Table, ch.Operation, record, ch.Timestamp, ch.Version).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to append change: %w", err)
	}

	fields, err := json.Marshal(ch.Record.Fields)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record fields: %w", err)
	}
	query = `INSERT INTO records (table_name, id, fields, updated_at, version, deleted)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (table_name, id) DO UPDATE SET
			fields = EXCLUDED.fields,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version,
			deleted = EXCLUDED.deleted`
	_, err = r.db.ExecContext(ctx, query,
		ch.Record.Table, ch.Record.ID, fields,
		ch.Record.UpdatedAt, ch.Record.Version, ch.Operation == syncwire.OpDelete)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert record state: %w", err)
	}

	return seq, nil
}

func (r *PostgresRepository) SelectSince(ctx context.Context, afterSeq int64, limit int) ([]*models.LoggedChange, error) {
	query := `SELECT server_seq, table_name, operation, record, ts, version
		FROM changes WHERE server_seq > $1 ORDER BY server_seq LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select changes: %w", err)
	}
	defer rows.Close()

	var result []*models.LoggedChange
	for rows.Next() {
		item := &models.LoggedChange{}
		var record []byte
		if err := rows.Scan(&item.Seq, &item.Change.Table, &item.Change.Operation,
			&record, &item.Change.Timestamp, &item.Change.Version); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(record, &item.Change.Record); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetRecord(ctx context.Context, table, id string) (*syncwire.Record, error) {
	query := `SELECT fields, updated_at, version, deleted FROM records
		WHERE table_name=$1 AND id=$2`
	row := r.db.QueryRowContext(ctx, query, table, id)

	rec := &syncwire.Record{Table: table, ID: id}
	var fields []byte
	if err := row.Scan(&fields, &rec.UpdatedAt, &rec.Version, &rec.Deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	if err := json.Unmarshal(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode record fields: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) GetPushResult(ctx context.Context, operationID string) (*syncwire.PushResult, error) {
	query := `SELECT result FROM push_dedup WHERE operation_id=$1`
	var data []byte
	if err := r.db.QueryRowContext(ctx, query, operationID).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select push result: %w", err)
	}
	res := &syncwire.PushResult{}
	if err := json.Unmarshal(data, res); err != nil {
		return nil, fmt.Errorf("failed to decode push result: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) SavePushResult(ctx context.Context, operationID string, res *syncwire.PushResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode push result: %w", err)
	}
	// a concurrent insert of the same operation id blocks here until the
	// winner commits, then affects zero rows
	query := `INSERT INTO push_dedup (operation_id, result, created_at)
		VALUES ($1, $2, $3) ON CONFLICT (operation_id) DO NOTHING`
	execRes, err := r.db.ExecContext(ctx, query, operationID, data, r.now())
	if err != nil {
		return fmt.Errorf("failed to save push result: %w", err)
	}
	n, err := execRes.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrDuplicateOperation
	}
	return nil
}
