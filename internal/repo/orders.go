package repo

import (
	"context"
	"database/sql"
	"strings"

	"prodline/internal/domain"
)

const orderCols = `id,order_number,production_number,product_name,order_date,planned_start_date,planned_end_date,process_id,workshop_id,status,created_at,updated_at`

type OrderFilters struct {
	Status      string
	WorkshopID  string
	ProcessID   string
	OrderNumber string
	Limit       int
}

func scanOrder(row interface{ Scan(...any) error }) (domain.ProductionOrder, error) {
	var o domain.ProductionOrder
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ProductionNumber, &o.ProductName, &o.OrderDate,
		&o.PlannedStartDate, &o.PlannedEndDate, &o.ProcessID, &o.WorkshopID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) InsertOrder(ctx context.Context, tx *sql.Tx, o domain.ProductionOrder) error {
	_, err := r.exec(ctx, tx, `INSERT INTO production_orders(`+orderCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.OrderNumber, o.ProductionNumber, o.ProductName, o.OrderDate, o.PlannedStartDate,
		o.PlannedEndDate, o.ProcessID, o.WorkshopID, o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) GetOrder(ctx context.Context, tx *sql.Tx, id string) (domain.ProductionOrder, error) {
	return scanOrder(r.queryRow(ctx, tx, `SELECT `+orderCols+` FROM production_orders WHERE id=?`, id))
}

// LockOrder reads an order inside tx, taking a row lock where the dialect supports one.
func (r Repo) LockOrder(ctx context.Context, tx *sql.Tx, id string) (domain.ProductionOrder, error) {
	return scanOrder(r.queryRow(ctx, tx, `SELECT `+orderCols+` FROM production_orders WHERE id=?`+r.Dialect.ForUpdate(), id))
}

func (r Repo) ListOrders(ctx context.Context, f OrderFilters) ([]domain.ProductionOrder, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.WorkshopID != "" {
		clauses = append(clauses, "workshop_id=?")
		args = append(args, f.WorkshopID)
	}
	if f.ProcessID != "" {
		clauses = append(clauses, "process_id=?")
		args = append(args, f.ProcessID)
	}
	if f.OrderNumber != "" {
		clauses = append(clauses, "order_number LIKE ?")
		args = append(args, "%"+f.OrderNumber+"%")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + orderCols + ` FROM production_orders` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.query(ctx, nil, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProductionOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// UpdateOrder writes the descriptive fields of an order. Status changes go through SetOrderStatus.
func (r Repo) UpdateOrder(ctx context.Context, tx *sql.Tx, o domain.ProductionOrder) error {
	res, err := r.exec(ctx, tx, `UPDATE production_orders SET order_number=?, production_number=?, product_name=?, order_date=?, planned_start_date=?, planned_end_date=?, workshop_id=?, updated_at=? WHERE id=?`,
		o.OrderNumber, o.ProductionNumber, o.ProductName, o.OrderDate, o.PlannedStartDate, o.PlannedEndDate, o.WorkshopID, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) SetOrderStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := r.exec(ctx, tx, `UPDATE production_orders SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// CancelOrder moves an open order to canceled. It returns false when the order exists
// but is no longer open.
func (r Repo) CancelOrder(ctx context.Context, tx *sql.Tx, id, updatedAt string) (bool, error) {
	res, err := r.exec(ctx, tx, `UPDATE production_orders SET status=?, updated_at=? WHERE id=? AND status IN (?,?)`,
		domain.OrderCanceled, updatedAt, id, domain.OrderPending, domain.OrderInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) DeleteOrder(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.exec(ctx, tx, `DELETE FROM production_orders WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) OrderNumberTaken(ctx context.Context, tx *sql.Tx, number, exceptID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM production_orders WHERE order_number=? AND id<>? LIMIT 1`, number, exceptID)
}

func (r Repo) ProcessReferenced(ctx context.Context, tx *sql.Tx, processID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM production_orders WHERE process_id=? LIMIT 1`, processID)
}

func (r Repo) WorkshopReferenced(ctx context.Context, tx *sql.Tx, workshopID string) (bool, error) {
	return r.exists(ctx, tx, `SELECT 1 FROM production_orders WHERE workshop_id=? LIMIT 1`, workshopID)
}
