package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ddanilov/podvault/internal/common"
	"github.com/ddanilov/podvault/internal/syncwire"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	repo := NewPostgresRepository(db)
	repo.now = func() int64 { return 1000 }
	return repo, mock, db
}

func testChange() *syncwire.Change {
	return &syncwire.Change{
		Table:     "reactions",
		Operation: syncwire.OpInsert,
		Timestamp: 1000,
		Version:   1,
		Record: syncwire.Record{
			Table:     "reactions",
			ID:        "r1",
			Fields:    map[string]any{"kind": "like"},
			UpdatedAt: 1000,
			Version:   1,
		},
	}
}

func TestAppendChange_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO changes .* RETURNING server_seq`).
		WithArgs("reactions", syncwire.OpInsert, sqlmock.AnyArg(), int64(1000), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"server_seq"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO records .* ON CONFLICT \(table_name, id\) DO UPDATE SET`).
		WithArgs("reactions", "r1", sqlmock.AnyArg(), int64(1000), int64(1), false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	seq, err := repo.AppendChange(context.Background(), testChange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seq != 7 {
		t.Fatalf("want seq 7, got %d", seq)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendChange_DeleteMarksRecordDeleted(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	ch := testChange()
	ch.Operation = syncwire.OpDelete

	mock.ExpectQuery(`INSERT INTO changes .* RETURNING server_seq`).
		WithArgs("reactions", syncwire.OpDelete, sqlmock.AnyArg(), int64(1000), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"server_seq"}).AddRow(int64(8)))
	mock.ExpectExec(`INSERT INTO records .* ON CONFLICT \(table_name, id\) DO UPDATE SET`).
		WithArgs("reactions", "r1", sqlmock.AnyArg(), int64(1000), int64(1), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := repo.AppendChange(context.Background(), ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendChange_InsertError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO changes .* RETURNING server_seq`).
		WillReturnError(errors.New("db is down"))

	_, err := repo.AppendChange(context.Background(), testChange())
	if err == nil || !regexp.MustCompile(`failed to append change: .*db is down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped append error, got %v", err)
	}
}

func TestSelectSince_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	record, _ := json.Marshal(syncwire.Record{Table: "reactions", ID: "r1", Version: 1})
	rows := sqlmock.NewRows([]string{"server_seq", "table_name", "operation", "record", "ts", "version"}).
		AddRow(int64(5), "reactions", "INSERT", record, int64(1000), int64(1)).
		AddRow(int64(6), "reactions", "UPDATE", record, int64(1001), int64(2))

	mock.ExpectQuery(`SELECT server_seq, table_name, operation, record, ts, version\s+FROM changes WHERE server_seq > \$1 ORDER BY server_seq LIMIT \$2`).
		WithArgs(int64(4), 10).
		WillReturnRows(rows)

	got, err := repo.SelectSince(context.Background(), 4, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 rows, got %d", len(got))
	}
	if got[0].Seq != 5 || got[0].Change.Record.ID != "r1" {
		t.Fatalf("unexpected first row: %+v", got[0])
	}
	if got[1].Seq != 6 || got[1].Change.Operation != syncwire.OpUpdate {
		t.Fatalf("unexpected second row: %+v", got[1])
	}
}

func TestSelectSince_BadRecordJSON(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"server_seq", "table_name", "operation", "record", "ts", "version"}).
		AddRow(int64(5), "reactions", "INSERT", []byte("{broken"), int64(1000), int64(1))

	mock.ExpectQuery(`SELECT server_seq, table_name, operation, record, ts, version`).
		WithArgs(int64(0), 10).
		WillReturnRows(rows)

	_, err := repo.SelectSince(context.Background(), 0, 10)
	if err == nil || !regexp.MustCompile(`failed to decode record`).MatchString(err.Error()) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestGetRecord_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT fields, updated_at, version, deleted FROM records`).
		WithArgs("reactions", "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetRecord(context.Background(), "reactions", "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetRecord_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT fields, updated_at, version, deleted FROM records`).
		WithArgs("reactions", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"fields", "updated_at", "version", "deleted"}).
			AddRow([]byte(`{"kind":"like"}`), int64(1000), int64(3), false))

	rec, err := repo.GetRecord(context.Background(), "reactions", "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Version != 3 || rec.Fields["kind"] != "like" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestPushResult_RoundTrip(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	res := &syncwire.PushResult{OperationID: "op-1", Success: true}
	data, _ := json.Marshal(res)

	mock.ExpectExec(`INSERT INTO push_dedup .* ON CONFLICT \(operation_id\) DO NOTHING`).
		WithArgs("op-1", data, int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT result FROM push_dedup WHERE operation_id=\$1`).
		WithArgs("op-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(data))

	if err := repo.SavePushResult(context.Background(), "op-1", res); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := repo.GetPushResult(context.Background(), "op-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OperationID != "op-1" || !got.Success {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestSavePushResult_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	res := &syncwire.PushResult{OperationID: "op-1", Success: true}
	data, _ := json.Marshal(res)

	mock.ExpectExec(`INSERT INTO push_dedup .* ON CONFLICT \(operation_id\) DO NOTHING`).
		WithArgs("op-1", data, int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SavePushResult(context.Background(), "op-1", res)
	if !errors.Is(err, common.ErrDuplicateOperation) {
		t.Fatalf("want ErrDuplicateOperation, got %v", err)
	}
}

func TestGetPushResult_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT result FROM push_dedup WHERE operation_id=\$1`).
		WithArgs("op-x").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetPushResult(context.Background(), "op-x")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
