package engine

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodline/internal/db"
	"prodline/internal/domain"
)

var (
	reportColumns = []string{"id", "order_id", "step_id", "start_time", "pause_time", "resume_time", "end_time", "total_time_ms", "creator_id", "created_at", "updated_at"}
	orderColumns  = []string{"id", "order_number", "production_number", "product_name", "order_date", "planned_start_date", "planned_end_date", "process_id", "workshop_id", "status", "created_at", "updated_at"}
)

func openReportRow() *sqlmock.Rows {
	return sqlmock.NewRows(reportColumns).AddRow("r1", "o1", "s1", "2024-03-04T09:00:00.000Z", nil, nil, nil, nil, "op", "2024-03-04T08:00:00.000Z", "2024-03-04T08:00:00.000Z")
}

func orderRow(status string) *sqlmock.Rows {
	return sqlmock.NewRows(orderColumns).AddRow("o1", "WO-1", "PN-1", "Frame", "2024-03-04", "2024-03-04", "2024-03-08", "p1", "w1", status, "2024-03-04T08:00:00.000Z", "2024-03-04T08:00:00.000Z")
}

func newMockEngine(t *testing.T, dialect db.Dialect) (Engine, sqlmock.Sqlmock) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	e := New(conn, dialect)
	e.Now = func() time.Time { return time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC) }
	return e, mock
}

func TestCompleteRollsBackWhenOrderWriteFails(t *testing.T) {
	e, mock := newMockEngine(t, db.SQLite)
	boom := errors.New("disk I/O error")

	mock.ExpectQuery(regexp.QuoteMeta("FROM production_reports WHERE id=?")).WithArgs("r1").WillReturnRows(openReportRow())
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM production_orders WHERE id=?")).WithArgs("o1").WillReturnRows(orderRow(domain.OrderInProgress))
	mock.ExpectQuery(regexp.QuoteMeta("FROM production_reports WHERE id=?")).WithArgs("r1").WillReturnRows(openReportRow())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE production_reports SET")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM process_steps")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT step_id")).WillReturnRows(sqlmock.NewRows([]string{"step_id"}).AddRow("s1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE production_orders SET status=?")).WillReturnError(boom)
	mock.ExpectRollback()

	_, err := e.CompleteReport(context.Background(), Actor{ID: "op"}, "r1", nil)
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOnPostgresLocksOrderAndReportRows(t *testing.T) {
	e, mock := newMockEngine(t, db.Postgres)

	mock.ExpectQuery(regexp.QuoteMeta("FROM production_reports WHERE id=$1")).WithArgs("r1").WillReturnRows(openReportRow())
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM production_orders WHERE id=$1 FOR UPDATE")).WithArgs("o1").WillReturnRows(orderRow(domain.OrderInProgress))
	mock.ExpectQuery(regexp.QuoteMeta("FROM production_reports WHERE id=$1 FOR UPDATE")).WithArgs("r1").WillReturnRows(openReportRow())
	mock.ExpectExec(regexp.QuoteMeta("total_time_ms=$7, updated_at=$8 WHERE id=$9")).
		WithArgs("o1", "s1", "2024-03-04T09:00:00.000Z", nil, nil, "2024-03-04T10:00:00.000Z", int64(3600000), sqlmock.AnyArg(), "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE process_id=$1 AND is_active=$2")).WithArgs("p1", true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE order_id=$1 AND end_time IS NOT NULL")).WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"step_id"}).AddRow("s1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE production_orders SET status=$1, updated_at=$2 WHERE id=$3")).
		WithArgs(domain.OrderCompleted, sqlmock.AnyArg(), "o1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).WithArgs(sqlmock.AnyArg(), "report.completed", "report", "r1", "op", "req-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1,$2,$3,$4,$5,$6,$7)")).WithArgs(sqlmock.AnyArg(), "order.status_changed", "order", "o1", "op", "req-9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	rep, err := e.CompleteReport(context.Background(), Actor{ID: "op", RequestID: "req-9"}, "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, *rep.TotalTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelUsesConditionalUpdate(t *testing.T) {
	e, mock := newMockEngine(t, db.SQLite)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM production_orders WHERE id=?")).WithArgs("o1").WillReturnRows(orderRow(domain.OrderPending))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id=? AND status IN (?,?)")).
		WithArgs(domain.OrderCanceled, sqlmock.AnyArg(), "o1", domain.OrderPending, domain.OrderInProgress).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := e.CancelOrder(context.Background(), Actor{ID: "op"}, "o1")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPauseOnPostgresIsConditionalOnOpenReport(t *testing.T) {
	e, mock := newMockEngine(t, db.Postgres)

	// A completion holding the report row lock commits first; the conditional update then
	// sees the sealed row and matches nothing.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id=$3 AND end_time IS NULL AND total_time_ms IS NULL AND pause_time IS NULL")).
		WithArgs("2024-03-04T10:00:00.000Z", sqlmock.AnyArg(), "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	sealedRow := sqlmock.NewRows(reportColumns).AddRow("r1", "o1", "s1", "2024-03-04T09:00:00.000Z", nil, nil,
		"2024-03-04T10:00:00.000Z", int64(3600000), "op", "2024-03-04T08:00:00.000Z", "2024-03-04T10:00:00.000Z")
	mock.ExpectQuery(regexp.QuoteMeta("FROM production_reports WHERE id=$1")).WithArgs("r1").WillReturnRows(sealedRow)
	mock.ExpectRollback()

	_, err := e.PauseReport(context.Background(), Actor{ID: "op"}, "r1")
	require.ErrorIs(t, err, ErrSealedRecord)
	require.NoError(t, mock.ExpectationsWereMet())
}
