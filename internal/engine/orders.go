package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prodline/internal/domain"
	"prodline/internal/events"
	"prodline/internal/metrics"
	"prodline/internal/repo"
)

type OrderInput struct {
	OrderNumber      string
	ProductionNumber string
	ProductName      string
	// OrderDate defaults to today.
	OrderDate        string
	PlannedStartDate string
	PlannedEndDate   string
	ProcessID        string
	WorkshopID       string
}

// OrderPatch holds the descriptive fields of an order that may change. Status and process
// are not editable.
type OrderPatch struct {
	OrderNumber      *string
	ProductionNumber *string
	ProductName      *string
	OrderDate        *string
	PlannedStartDate *string
	PlannedEndDate   *string
	WorkshopID       *string
}

func parseDate(field, v string) (time.Time, error) {
	t, err := time.Parse(repo.DateLayout, v)
	if err != nil {
		return t, newError(ErrInvalidInput, map[string]any{"field": field}, "%s must be a YYYY-MM-DD date", field)
	}
	return t, nil
}

func validateOrder(o domain.ProductionOrder) error {
	if strings.TrimSpace(o.OrderNumber) == "" || strings.TrimSpace(o.ProductionNumber) == "" || strings.TrimSpace(o.ProductName) == "" {
		return invalidInput("order_number, production_number and product_name are required")
	}
	if _, err := parseDate("order_date", o.OrderDate); err != nil {
		return err
	}
	start, err := parseDate("planned_start_date", o.PlannedStartDate)
	if err != nil {
		return err
	}
	end, err := parseDate("planned_end_date", o.PlannedEndDate)
	if err != nil {
		return err
	}
	if end.Before(start) {
		return invalidInput("planned_end_date precedes planned_start_date")
	}
	return nil
}

func (e Engine) CreateOrder(ctx context.Context, actor Actor, in OrderInput) (domain.ProductionOrder, error) {
	now := e.stamp()
	o := domain.ProductionOrder{
		ID:               uuid.NewString(),
		OrderNumber:      strings.TrimSpace(in.OrderNumber),
		ProductionNumber: strings.TrimSpace(in.ProductionNumber),
		ProductName:      strings.TrimSpace(in.ProductName),
		OrderDate:        in.OrderDate,
		PlannedStartDate: in.PlannedStartDate,
		PlannedEndDate:   in.PlannedEndDate,
		ProcessID:        in.ProcessID,
		WorkshopID:       in.WorkshopID,
		Status:           domain.OrderPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if o.OrderDate == "" {
		o.OrderDate = e.now().Format(repo.DateLayout)
	}
	if err := validateOrder(o); err != nil {
		return domain.ProductionOrder{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionOrder{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcess(ctx, tx, o.ProcessID)
	if err != nil {
		return domain.ProductionOrder{}, lookup(err, "process", o.ProcessID)
	}
	if !p.IsActive {
		return domain.ProductionOrder{}, invalidInput("process %s is inactive", p.Code)
	}
	if _, err := e.Repo.GetWorkshop(ctx, tx, o.WorkshopID); err != nil {
		return domain.ProductionOrder{}, lookup(err, "workshop", o.WorkshopID)
	}
	if err := e.uniqueOrderNumber(ctx, tx, o.OrderNumber, o.ID); err != nil {
		return domain.ProductionOrder{}, err
	}
	if err := e.Repo.InsertOrder(ctx, tx, o); err != nil {
		return domain.ProductionOrder{}, err
	}
	if err := e.append(ctx, tx, actor, "order.created", events.KindOrder, o.ID, events.EventPayload{
		"order_number": o.OrderNumber, "process_id": o.ProcessID, "workshop_id": o.WorkshopID,
	}); err != nil {
		return domain.ProductionOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionOrder{}, err
	}
	e.log().Info("order created", zap.String("order_id", o.ID), zap.String("order_number", o.OrderNumber),
		zap.String("actor_id", actor.ID), zap.String("request_id", actor.RequestID))
	return o, nil
}

func (e Engine) GetOrder(ctx context.Context, id string) (domain.ProductionOrder, error) {
	o, err := e.Repo.GetOrder(ctx, nil, id)
	return o, lookup(err, "order", id)
}

func (e Engine) ListOrders(ctx context.Context, f repo.OrderFilters) ([]domain.ProductionOrder, error) {
	return e.Repo.ListOrders(ctx, f)
}

func (e Engine) UpdateOrder(ctx context.Context, actor Actor, id string, p OrderPatch) (domain.ProductionOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionOrder{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.LockOrder(ctx, tx, id)
	if err != nil {
		return domain.ProductionOrder{}, lookup(err, "order", id)
	}
	changed := events.EventPayload{}
	set := func(field string, dst *string, v *string) {
		if v != nil && strings.TrimSpace(*v) != *dst {
			*dst = strings.TrimSpace(*v)
			changed[field] = *dst
		}
	}
	set("order_number", &o.OrderNumber, p.OrderNumber)
	set("production_number", &o.ProductionNumber, p.ProductionNumber)
	set("product_name", &o.ProductName, p.ProductName)
	set("order_date", &o.OrderDate, p.OrderDate)
	set("planned_start_date", &o.PlannedStartDate, p.PlannedStartDate)
	set("planned_end_date", &o.PlannedEndDate, p.PlannedEndDate)
	set("workshop_id", &o.WorkshopID, p.WorkshopID)
	if len(changed) == 0 {
		return o, nil
	}
	if err := validateOrder(o); err != nil {
		return domain.ProductionOrder{}, err
	}
	if _, ok := changed["order_number"]; ok {
		if err := e.uniqueOrderNumber(ctx, tx, o.OrderNumber, o.ID); err != nil {
			return domain.ProductionOrder{}, err
		}
	}
	if _, ok := changed["workshop_id"]; ok {
		if _, err := e.Repo.GetWorkshop(ctx, tx, o.WorkshopID); err != nil {
			return domain.ProductionOrder{}, lookup(err, "workshop", o.WorkshopID)
		}
	}
	o.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateOrder(ctx, tx, o); err != nil {
		return domain.ProductionOrder{}, err
	}
	if err := e.append(ctx, tx, actor, "order.updated", events.KindOrder, o.ID, changed); err != nil {
		return domain.ProductionOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionOrder{}, err
	}
	return o, nil
}

func (e Engine) uniqueOrderNumber(ctx context.Context, tx *sql.Tx, number, exceptID string) error {
	taken, err := e.Repo.OrderNumberTaken(ctx, tx, number, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return newError(ErrConflict, map[string]any{"order_number": number}, "order number %s already exists", number)
	}
	return nil
}

// CancelOrder moves a pending or in-progress order to canceled. Existing reports are
// kept.
func (e Engine) CancelOrder(ctx context.Context, actor Actor, id string) (domain.ProductionOrder, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionOrder{}, err
	}
	defer tx.Rollback()

	o, err := e.Repo.LockOrder(ctx, tx, id)
	if err != nil {
		return domain.ProductionOrder{}, lookup(err, "order", id)
	}
	from := o.Status
	now := e.stamp()
	ok := false
	if o.Open() {
		if ok, err = e.Repo.CancelOrder(ctx, tx, id, now); err != nil {
			return domain.ProductionOrder{}, err
		}
	}
	if !ok {
		return domain.ProductionOrder{}, newError(ErrInvalidTransition, map[string]any{"order_id": id, "status": o.Status},
			"order %s is %s; only pending or in_progress orders can be canceled", o.OrderNumber, o.Status)
	}
	o.Status = domain.OrderCanceled
	o.UpdatedAt = now
	if err := e.append(ctx, tx, actor, "order.canceled", events.KindOrder, o.ID, events.EventPayload{"from": from}); err != nil {
		return domain.ProductionOrder{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionOrder{}, err
	}
	metrics.OrderStatusChanges.WithLabelValues(from, domain.OrderCanceled).Inc()
	e.log().Info("order canceled", zap.String("order_id", o.ID), zap.String("from", from),
		zap.String("actor_id", actor.ID), zap.String("request_id", actor.RequestID))
	return o, nil
}

// DeleteOrder removes an order with its open reports. Orders holding completed reports are
// protected.
func (e Engine) DeleteOrder(ctx context.Context, actor Actor, id string) error {
	release, err := e.lockOrders(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	o, err := e.Repo.LockOrder(ctx, tx, id)
	if err != nil {
		return lookup(err, "order", id)
	}
	hasSealed, err := e.Repo.OrderHasSealedReports(ctx, tx, id)
	if err != nil {
		return err
	}
	if hasSealed {
		return newError(ErrProtected, map[string]any{"order_id": id}, "order %s has completed reports", o.OrderNumber)
	}
	if err := e.Repo.DeleteOrder(ctx, tx, id); err != nil {
		return lookup(err, "order", id)
	}
	if err := e.append(ctx, tx, actor, "order.deleted", events.KindOrder, id, events.EventPayload{"order_number": o.OrderNumber}); err != nil {
		return err
	}
	return tx.Commit()
}

// OrderProgress reports the coverage of every active step of an order.
func (e Engine) OrderProgress(ctx context.Context, id string) (domain.OrderProgress, error) {
	o, err := e.Repo.GetOrder(ctx, nil, id)
	if err != nil {
		return domain.OrderProgress{}, lookup(err, "order", id)
	}
	steps, err := e.Repo.ListSteps(ctx, nil, o.ProcessID, true)
	if err != nil {
		return domain.OrderProgress{}, err
	}
	stats, err := e.Repo.StepStats(ctx, nil, o.ID)
	if err != nil {
		return domain.OrderProgress{}, err
	}
	p := domain.OrderProgress{OrderID: o.ID, Status: o.Status, Steps: []domain.StepProgress{}, Covered: []string{}, Missing: []string{}}
	for _, s := range steps {
		st := stats[s.ID]
		sp := domain.StepProgress{
			StepID:      s.ID,
			Code:        s.Code,
			Name:        s.Name,
			Order:       s.Order,
			Covered:     st.Completed > 0,
			Reports:     st.Reports,
			OpenReports: st.OpenReports,
			TotalTime:   st.TotalTime,
		}
		p.Steps = append(p.Steps, sp)
		if sp.Covered {
			p.Covered = append(p.Covered, s.ID)
		} else {
			p.Missing = append(p.Missing, s.ID)
		}
	}
	p.Complete = len(p.Missing) == 0
	return p, nil
}
