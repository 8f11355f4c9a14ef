package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"prodline/internal/domain"
)

const workshopCols = `id,name,is_active,created_at,updated_at`

func scanWorkshop(row interface{ Scan(...any) error }) (domain.Workshop, error) {
	var w domain.Workshop
	err := row.Scan(&w.ID, &w.Name, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) InsertWorkshop(ctx context.Context, tx *sql.Tx, w domain.Workshop) error {
	_, err := r.exec(ctx, tx, `INSERT INTO workshops(`+workshopCols+`) VALUES (?,?,?,?,?)`,
		w.ID, w.Name, w.IsActive, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkshop(ctx context.Context, tx *sql.Tx, id string) (domain.Workshop, error) {
	return scanWorkshop(r.queryRow(ctx, tx, `SELECT `+workshopCols+` FROM workshops WHERE id=?`, id))
}

func (r Repo) ListWorkshops(ctx context.Context, active *bool) ([]domain.Workshop, error) {
	query := `SELECT ` + workshopCols + ` FROM workshops`
	var args []any
	if active != nil {
		query += ` WHERE is_active=?`
		args = append(args, *active)
	}
	query += ` ORDER BY name`
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workshop
	for rows.Next() {
		w, err := scanWorkshop(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpdateWorkshop(ctx context.Context, tx *sql.Tx, w domain.Workshop) error {
	res, err := r.exec(ctx, tx, `UPDATE workshops SET name=?, is_active=?, updated_at=? WHERE id=?`,
		w.Name, w.IsActive, w.UpdatedAt, w.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteWorkshop(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM workshops WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// WorkshopNameTaken reports whether another workshop already uses name.
func (r Repo) WorkshopNameTaken(ctx context.Context, tx *sql.Tx, name, exceptID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM workshops WHERE name=? AND id<>? LIMIT 1`, name, exceptID)
}

const processCols = `id,code,name,is_active,created_at,updated_at`

func scanProcess(row interface{ Scan(...any) error }) (domain.Process, error) {
	var p domain.Process
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProcess(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	_, err := r.exec(ctx, tx, `INSERT INTO processes(`+processCols+`) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Code, p.Name, p.IsActive, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProcess(ctx context.Context, tx *sql.Tx, id string) (domain.Process, error) {
	return scanProcess(r.queryRow(ctx, tx, `SELECT `+processCols+` FROM processes WHERE id=?`, id))
}

func (r Repo) ListProcesses(ctx context.Context, active *bool) ([]domain.Process, error) {
	query := `SELECT ` + processCols + ` FROM processes`
	var args []any
	if active != nil {
		query += ` WHERE is_active=?`
		args = append(args, *active)
	}
	query += ` ORDER BY code`
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProcess(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	res, err := r.exec(ctx, tx, `UPDATE processes SET code=?, name=?, is_active=?, updated_at=? WHERE id=?`,
		p.Code, p.Name, p.IsActive, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteProcess(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM processes WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) ProcessCodeTaken(ctx context.Context, tx *sql.Tx, code, exceptID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM processes WHERE code=? AND id<>? LIMIT 1`, code, exceptID)
}

const stepCols = `id,process_id,code,name,step_order,is_active,created_at,updated_at`

func scanStep(row interface{ Scan(...any) error }) (domain.ProcessStep, error) {
	var s domain.ProcessStep
	err := row.Scan(&s.ID, &s.ProcessID, &s.Code, &s.Name, &s.Order, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertStep(ctx context.Context, tx *sql.Tx, s domain.ProcessStep) error {
	_, err := r.exec(ctx, tx, `INSERT INTO process_steps(`+stepCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.ProcessID, s.Code, s.Name, s.Order, s.IsActive, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStep(ctx context.Context, tx *sql.Tx, id string) (domain.ProcessStep, error) {
	return scanStep(r.queryRow(ctx, tx, `SELECT `+stepCols+` FROM process_steps WHERE id=?`, id))
}

// ListSteps returns a process's steps in execution order.
func (r Repo) ListSteps(ctx context.Context, tx *sql.Tx, processID string, activeOnly bool) ([]domain.ProcessStep, error) {
	clauses := []string{"process_id=?"}
	args := []any{processID}
	if activeOnly {
		clauses = append(clauses, "is_active=?")
		args = append(args, true)
	}
	query := fmt.Sprintf(`SELECT %s FROM process_steps WHERE %s ORDER BY step_order, code`, stepCols, strings.Join(clauses, " AND "))
	rows, err := r.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProcessStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ActiveStepIDs returns the ids of the active steps of a process.
func (r Repo) ActiveStepIDs(ctx context.Context, tx *sql.Tx, processID string) ([]string, error) {
	rows, err := r.query(ctx, tx, `SELECT id FROM process_steps WHERE process_id=? AND is_active=? ORDER BY step_order, code`, processID, true)
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

func (r Repo) UpdateStep(ctx context.Context, tx *sql.Tx, s domain.ProcessStep) error {
	res, err := r.exec(ctx, tx, `UPDATE process_steps SET code=?, name=?, step_order=?, is_active=?, updated_at=? WHERE id=?`,
		s.Code, s.Name, s.Order, s.IsActive, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteStep(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM process_steps WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) StepCodeTaken(ctx context.Context, tx *sql.Tx, code, exceptID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM process_steps WHERE code=? AND id<>? LIMIT 1`, code, exceptID)
}
