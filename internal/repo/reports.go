package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"prodline/internal/domain"
)

const reportCols = `id,order_id,step_id,start_time,pause_time,resume_time,end_time,total_time_ms,creator_id,created_at,updated_at`

type ReportFilters struct {
	OrderID   string
	StepID    string
	CreatorID string
	// Completed narrows to reports with (true) or without (false) an end time.
	Completed *bool
	Limit     int
}

// StepStats aggregates the reports of one (order, step) pair.
type StepStats struct {
	Reports     int
	OpenReports int
	Completed   int
	TotalTime   time.Duration
}

func scanReport(row interface{ Scan(...any) error }) (domain.ProductionReport, error) {
	var rep domain.ProductionReport
	var start string
	var pause, resume, end sql.NullString
	var total sql.NullInt64
	err := row.Scan(&rep.ID, &rep.OrderID, &rep.StepID, &start, &pause, &resume, &end, &total,
		&rep.CreatorID, &rep.CreatedAt, &rep.UpdatedAt)
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	if err != nil {
		return rep, err
	}
	if rep.StartTime, err = ParseTime(start); err != nil {
		return rep, fmt.Errorf("report %s start_time: %w", rep.ID, err)
	}
	if rep.PauseTime, err = parseNullTime(pause); err != nil {
		return rep, fmt.Errorf("report %s pause_time: %w", rep.ID, err)
	}
	if rep.ResumeTime, err = parseNullTime(resume); err != nil {
		return rep, fmt.Errorf("report %s resume_time: %w", rep.ID, err)
	}
	if rep.EndTime, err = parseNullTime(end); err != nil {
		return rep, fmt.Errorf("report %s end_time: %w", rep.ID, err)
	}
	if total.Valid {
		d := time.Duration(total.Int64) * time.Millisecond
		rep.TotalTime = &d
	}
	return rep, nil
}

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.ProductionReport) error {
	_, err := r.exec(ctx, tx, `INSERT INTO production_reports(`+reportCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.OrderID, rep.StepID, FormatTime(rep.StartTime), nullableTime(rep.PauseTime),
		nullableTime(rep.ResumeTime), nullableTime(rep.EndTime), nullableDuration(rep.TotalTime),
		rep.CreatorID, rep.CreatedAt, rep.UpdatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, tx *sql.Tx, id string) (domain.ProductionReport, error) {
	return scanReport(r.queryRow(ctx, tx, `SELECT `+reportCols+` FROM production_reports WHERE id=?`, id))
}

// LockReport reads a report inside tx, taking a row lock where the dialect supports one.
// Conditional pause and resume updates wait behind the lock.
func (r Repo) LockReport(ctx context.Context, tx *sql.Tx, id string) (domain.ProductionReport, error) {
	return scanReport(r.queryRow(ctx, tx, `SELECT `+reportCols+` FROM production_reports WHERE id=?`+r.Dialect.ForUpdate(), id))
}

// UpdateReport rewrites every mutable column of a report.
func (r Repo) UpdateReport(ctx context.Context, tx *sql.Tx, rep domain.ProductionReport) error {
	res, err := r.exec(ctx, tx, `UPDATE production_reports SET order_id=?, step_id=?, start_time=?, pause_time=?, resume_time=?, end_time=?, total_time_ms=?, updated_at=? WHERE id=?`,
		rep.OrderID, rep.StepID, FormatTime(rep.StartTime), nullableTime(rep.PauseTime), nullableTime(rep.ResumeTime),
		nullableTime(rep.EndTime), nullableDuration(rep.TotalTime), rep.UpdatedAt, rep.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// PauseReport sets pause_time on an open, unpaused report. It returns false when the
// report is not in that state.
func (r Repo) PauseReport(ctx context.Context, tx *sql.Tx, id string, at time.Time, updatedAt string) (bool, error) {
	res, err := r.exec(ctx, tx, `UPDATE production_reports SET pause_time=?, updated_at=?
		WHERE id=? AND end_time IS NULL AND total_time_ms IS NULL AND pause_time IS NULL`,
		FormatTime(at), updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ResumeReport sets resume_time on a paused report. It returns false when the report is
// not paused.
func (r Repo) ResumeReport(ctx context.Context, tx *sql.Tx, id string, at time.Time, updatedAt string) (bool, error) {
	res, err := r.exec(ctx, tx, `UPDATE production_reports SET resume_time=?, updated_at=?
		WHERE id=? AND end_time IS NULL AND total_time_ms IS NULL AND pause_time IS NOT NULL AND resume_time IS NULL`,
		FormatTime(at), updatedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) DeleteReport(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM production_reports WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.ProductionReport, error) {
	var clauses []string
	var args []any
	if f.OrderID != "" {
		clauses = append(clauses, "order_id=?")
		args = append(args, f.OrderID)
	}
	if f.StepID != "" {
		clauses = append(clauses, "step_id=?")
		args = append(args, f.StepID)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.Completed != nil {
		if *f.Completed {
			clauses = append(clauses, "end_time IS NOT NULL")
		} else {
			clauses = append(clauses, "end_time IS NULL")
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reportCols + ` FROM production_reports` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductionReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// CoveredStepIDs returns the steps of an order that have at least one completed report.
func (r Repo) CoveredStepIDs(ctx context.Context, tx *sql.Tx, orderID string) ([]string, error) {
	rows, err := r.query(ctx, tx, `SELECT DISTINCT step_id FROM production_reports WHERE order_id=? AND end_time IS NOT NULL`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StepStats returns per-step report aggregates for an order keyed by step id.
func (r Repo) StepStats(ctx context.Context, tx *sql.Tx, orderID string) (map[string]StepStats, error) {
	rows, err := r.query(ctx, tx, `SELECT step_id, COUNT(*),
		SUM(CASE WHEN end_time IS NULL THEN 1 ELSE 0 END),
		SUM(CASE WHEN end_time IS NOT NULL THEN 1 ELSE 0 END),
		COALESCE(SUM(CASE WHEN end_time IS NOT NULL THEN total_time_ms ELSE 0 END), 0)
		FROM production_reports WHERE order_id=? GROUP BY step_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]StepStats{}
	for rows.Next() {
		var stepID string
		var s StepStats
		var totalMS int64
		if err := rows.Scan(&stepID, &s.Reports, &s.OpenReports, &s.Completed, &totalMS); err != nil {
			return nil, err
		}
		s.TotalTime = time.Duration(totalMS) * time.Millisecond
		res[stepID] = s
	}
	return res, rows.Err()
}

func (r Repo) StepHasReports(ctx context.Context, tx *sql.Tx, stepID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM production_reports WHERE step_id=? LIMIT 1`, stepID)
}

func (r Repo) OrderHasSealedReports(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM production_reports WHERE order_id=? AND total_time_ms IS NOT NULL LIMIT 1`, orderID)
}
