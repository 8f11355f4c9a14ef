package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodline/internal/db"
	"prodline/internal/domain"
	"prodline/internal/events"
	"prodline/internal/migrate"
)

const stamp = "2024-03-04T08:00:00.000Z"

func at(h, m int) time.Time { return time.Date(2024, 3, 4, h, m, 0, 0, time.UTC) }

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	return Repo{DB: conn, Dialect: db.SQLite}
}

// seed creates one workshop, a process with steps s1 (active), s2 (active) and s3
// (inactive), and order o1.
func seed(t *testing.T, r Repo) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.InsertWorkshop(ctx, nil, domain.Workshop{ID: "w1", Name: "Assembly", IsActive: true, CreatedAt: stamp, UpdatedAt: stamp}))
	require.NoError(t, r.InsertProcess(ctx, nil, domain.Process{ID: "p1", Code: "P-100", Name: "Frame", IsActive: true, CreatedAt: stamp, UpdatedAt: stamp}))
	for i, s := range []domain.ProcessStep{
		{ID: "s2", Code: "S2", Name: "Weld", Order: 2, IsActive: true},
		{ID: "s1", Code: "S1", Name: "Cut", Order: 1, IsActive: true},
		{ID: "s3", Code: "S3", Name: "Paint", Order: 3},
	} {
		s.ProcessID = "p1"
		s.CreatedAt, s.UpdatedAt = stamp, stamp
		require.NoError(t, r.InsertStep(ctx, nil, s), "step %d", i)
	}
	require.NoError(t, r.InsertOrder(ctx, nil, domain.ProductionOrder{
		ID: "o1", OrderNumber: "WO-001", ProductionNumber: "PN-1", ProductName: "Frame",
		OrderDate: "2024-03-04", PlannedStartDate: "2024-03-04", PlannedEndDate: "2024-03-08",
		ProcessID: "p1", WorkshopID: "w1", Status: domain.OrderPending, CreatedAt: stamp, UpdatedAt: stamp,
	}))
}

func insertReport(t *testing.T, r Repo, id, stepID, creator string, start time.Time) domain.ProductionReport {
	t.Helper()
	rep := domain.ProductionReport{ID: id, OrderID: "o1", StepID: stepID, StartTime: start, CreatorID: creator, CreatedAt: FormatTime(start), UpdatedAt: FormatTime(start)}
	require.NoError(t, r.InsertReport(context.Background(), nil, rep))
	return rep
}

func TestReportRoundTripKeepsMilliseconds(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	start := at(9, 0).Add(123 * time.Millisecond)
	rep := insertReport(t, r, "r1", "s1", "op", start)

	end := at(10, 0)
	total := end.Sub(start)
	rep.EndTime = &end
	rep.TotalTime = &total
	require.NoError(t, r.UpdateReport(ctx, nil, rep))

	got, err := r.GetReport(ctx, nil, "r1")
	require.NoError(t, err)
	assert.True(t, got.StartTime.Equal(start))
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	assert.Equal(t, total, *got.TotalTime)
	assert.Nil(t, got.PauseTime)
	assert.True(t, got.Sealed())

	_, err = r.GetReport(ctx, nil, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPauseResumeAreConditional(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	insertReport(t, r, "r1", "s1", "op", at(9, 0))

	ok, err := r.ResumeReport(ctx, nil, "r1", at(9, 5), stamp)
	require.NoError(t, err)
	assert.False(t, ok, "resume before pause")

	ok, err = r.PauseReport(ctx, nil, "r1", at(9, 10), stamp)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.PauseReport(ctx, nil, "r1", at(9, 11), stamp)
	require.NoError(t, err)
	assert.False(t, ok, "second pause")

	ok, err = r.ResumeReport(ctx, nil, "r1", at(9, 20), stamp)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ResumeReport(ctx, nil, "r1", at(9, 21), stamp)
	require.NoError(t, err)
	assert.False(t, ok, "second resume")

	got, err := r.GetReport(ctx, nil, "r1")
	require.NoError(t, err)
	assert.True(t, got.PauseTime.Equal(at(9, 10)))
	assert.True(t, got.ResumeTime.Equal(at(9, 20)))
}

func TestCoverageAndStepStats(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	active, err := r.ActiveStepIDs(ctx, nil, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, active)

	done := insertReport(t, r, "r1", "s1", "op", at(9, 0))
	end := at(9, 45)
	total := 45 * time.Minute
	done.EndTime, done.TotalTime = &end, &total
	require.NoError(t, r.UpdateReport(ctx, nil, done))
	insertReport(t, r, "r2", "s1", "op", at(10, 0))
	insertReport(t, r, "r3", "s2", "op2", at(10, 0))

	covered, err := r.CoveredStepIDs(ctx, nil, "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, covered)

	stats, err := r.StepStats(ctx, nil, "o1")
	require.NoError(t, err)
	assert.Equal(t, StepStats{Reports: 2, OpenReports: 1, Completed: 1, TotalTime: total}, stats["s1"])
	assert.Equal(t, StepStats{Reports: 1, OpenReports: 1}, stats["s2"])

	sealed, err := r.OrderHasSealedReports(ctx, nil, "o1")
	require.NoError(t, err)
	assert.True(t, sealed)
	used, err := r.StepHasReports(ctx, nil, "s3")
	require.NoError(t, err)
	assert.False(t, used)
}

func TestListReportsFilters(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()
	done := insertReport(t, r, "r1", "s1", "op", at(9, 0))
	end := at(9, 30)
	total := 30 * time.Minute
	done.EndTime, done.TotalTime = &end, &total
	require.NoError(t, r.UpdateReport(ctx, nil, done))
	insertReport(t, r, "r2", "s2", "op2", at(10, 0))

	all, err := r.ListReports(ctx, ReportFilters{OrderID: "o1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r2", all[0].ID, "newest first")

	yes, no := true, false
	completed, err := r.ListReports(ctx, ReportFilters{Completed: &yes})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "r1", completed[0].ID)

	open, err := r.ListReports(ctx, ReportFilters{Completed: &no, CreatorID: "op2"})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "r2", open[0].ID)

	limited, err := r.ListReports(ctx, ReportFilters{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCancelOrderOnlyFromOpenStatuses(t *testing.T) {
	r := newTestRepo(t)
	seed(t, r)
	ctx := context.Background()

	require.NoError(t, r.SetOrderStatus(ctx, nil, "o1", domain.OrderCompleted, stamp))
	ok, err := r.CancelOrder(ctx, nil, "o1", stamp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.SetOrderStatus(ctx, nil, "o1", domain.OrderInProgress, stamp))
	ok, err = r.CancelOrder(ctx, nil, "o1", stamp)
	require.NoError(t, err)
	assert.True(t, ok)

	o, err := r.GetOrder(ctx, nil, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCanceled, o.Status)
	assert.ErrorIs(t, r.SetOrderStatus(ctx, nil, "nope", domain.OrderCompleted, stamp), ErrNotFound)
}

func TestEventQueries(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	latest, err := r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	w := events.Writer{Dialect: db.SQLite, Now: func() time.Time { return at(8, 0) }}
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, tx, "order.created", events.KindOrder, "o1", "op", "req-1", events.EventPayload{"n": 1}))
	require.NoError(t, w.Append(ctx, tx, "report.created", events.KindReport, "r1", "op", "", nil))
	require.NoError(t, w.Append(ctx, tx, "report.completed", events.KindReport, "r1", "op2", "req-2", nil))
	require.NoError(t, tx.Commit())

	latest, err = r.LatestEventID(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, latest)

	newest, err := r.LatestEvents(ctx, EventFilters{EntityKind: events.KindReport})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "report.completed", newest[0].Type)
	assert.Equal(t, "req-2", newest[0].RequestID)
	assert.Empty(t, newest[1].RequestID)

	older, err := r.LatestEvents(ctx, EventFilters{Before: 2})
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, `{"n":1}`, older[0].Payload)

	after, err := r.EventsAfter(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "report.created", after[0].Type)
}
