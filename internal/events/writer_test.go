package events

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"prodline/internal/db"
)

func fixedNow() time.Time { return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) }

func TestAppendSerializesInsertsOnPostgres(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).WithArgs(logLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,request_id,payload_json) VALUES ($1,$2,$3,$4,$5,$6,$7)")).
		WithArgs("2024-03-04T10:00:00.000Z", "report.completed", KindReport, "r1", "op", "req-1", `{"order_id":"o1"}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := conn.Begin()
	require.NoError(t, err)
	w := Writer{Dialect: db.Postgres, Now: fixedNow}
	require.NoError(t, w.Append(context.Background(), tx, "report.completed", KindReport, "r1", "op", "req-1", EventPayload{"order_id": "o1"}))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendOnSQLiteInsertsDirectly(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).
		WithArgs("2024-03-04T10:00:00.000Z", "order.canceled", KindOrder, "o1", "op", nil, `{}`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := conn.Begin()
	require.NoError(t, err)
	w := Writer{Dialect: db.SQLite, Now: fixedNow}
	require.NoError(t, w.Append(context.Background(), tx, "order.canceled", KindOrder, "o1", "op", "", nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendAbortsWhenLockFails(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	tx, err := conn.Begin()
	require.NoError(t, err)
	w := Writer{Dialect: db.Postgres, Now: fixedNow}
	err = w.Append(context.Background(), tx, "order.created", KindOrder, "o1", "op", "", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
