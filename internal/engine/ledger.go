package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prodline/internal/domain"
	"prodline/internal/events"
	"prodline/internal/metrics"
	"prodline/internal/repo"
)

type reportState struct {
	Report domain.ProductionReport
	Order  domain.ProductionOrder
}

// TotalTime is the accounted working time of a report: end minus start, less the paused
// interval when the report was both paused and resumed. An unresumed pause deducts
// nothing. Negative results are returned as is.
func TotalTime(start time.Time, pause, resume *time.Time, end time.Time) time.Duration {
	total := end.Sub(start)
	if pause != nil && resume != nil {
		total -= resume.Sub(*pause)
	}
	return total
}

type CreateReportInput struct {
	OrderID string
	StepID  string
	// StartTime defaults to now.
	StartTime time.Time
}

// IsStepActive reports whether a catalog step counts toward coverage.
func (e Engine) IsStepActive(ctx context.Context, stepID string) (bool, error) {
	s, err := e.Repo.GetStep(ctx, nil, stepID)
	if err != nil {
		return false, lookup(err, "step", stepID)
	}
	return s.IsActive, nil
}

// checkStep verifies a step belongs to the order's process and is active.
func (e Engine) checkStep(ctx context.Context, tx *sql.Tx, order domain.ProductionOrder, stepID string) error {
	s, err := e.Repo.GetStep(ctx, tx, stepID)
	if err != nil {
		return lookup(err, "step", stepID)
	}
	if s.ProcessID != order.ProcessID {
		return newError(ErrInvalidInput, map[string]any{"step_id": stepID, "process_id": order.ProcessID},
			"step %s is not part of the process of order %s", s.Code, order.OrderNumber)
	}
	if !s.IsActive {
		return newError(ErrInvalidInput, map[string]any{"step_id": stepID}, "step %s is inactive", s.Code)
	}
	return nil
}

func requireOpen(order domain.ProductionOrder) error {
	if order.Open() {
		return nil
	}
	return newError(ErrInvalidOrderState, map[string]any{"order_id": order.ID, "status": order.Status},
		"order %s is %s; reports require a pending or in_progress order", order.OrderNumber, order.Status)
}

func (e Engine) CreateReport(ctx context.Context, actor Actor, in CreateReportInput) (domain.ProductionReport, error) {
	if in.OrderID == "" || in.StepID == "" {
		return domain.ProductionReport{}, invalidInput("order_id and step_id are required")
	}
	if actor.ID == "" {
		return domain.ProductionReport{}, invalidInput("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionReport{}, err
	}
	defer tx.Rollback()

	order, err := e.Repo.LockOrder(ctx, tx, in.OrderID)
	if err != nil {
		return domain.ProductionReport{}, lookup(err, "order", in.OrderID)
	}
	if err := requireOpen(order); err != nil {
		return domain.ProductionReport{}, err
	}
	if err := e.checkStep(ctx, tx, order, in.StepID); err != nil {
		return domain.ProductionReport{}, err
	}
	now := e.stamp()
	start := in.StartTime.UTC().Truncate(time.Millisecond)
	if in.StartTime.IsZero() {
		start = e.now()
	}
	rep := domain.ProductionReport{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		StepID:    in.StepID,
		StartTime: start,
		CreatorID: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return domain.ProductionReport{}, err
	}
	if err := e.append(ctx, tx, actor, "report.created", events.KindReport, rep.ID, events.EventPayload{
		"order_id": rep.OrderID, "step_id": rep.StepID, "start_time": repo.FormatTime(rep.StartTime),
	}); err != nil {
		return domain.ProductionReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionReport{}, err
	}
	metrics.ReportTransitions.WithLabelValues("created").Inc()
	e.log().Info("report created", reportFields(actor, rep)...)
	return rep, nil
}

func (e Engine) GetReport(ctx context.Context, id string) (domain.ProductionReport, error) {
	rep, err := e.Repo.GetReport(ctx, nil, id)
	return rep, lookup(err, "report", id)
}

func (e Engine) ListReports(ctx context.Context, f repo.ReportFilters) ([]domain.ProductionReport, error) {
	return e.Repo.ListReports(ctx, f)
}

// PauseReport suspends an open report. Pause and resume touch a single row, so they use a
// conditional update instead of the order lock.
func (e Engine) PauseReport(ctx context.Context, actor Actor, id string) (domain.ProductionReport, error) {
	return e.suspendOrResume(ctx, actor, id, "paused")
}

func (e Engine) ResumeReport(ctx context.Context, actor Actor, id string) (domain.ProductionReport, error) {
	return e.suspendOrResume(ctx, actor, id, "resumed")
}

func (e Engine) suspendOrResume(ctx context.Context, actor Actor, id, transition string) (domain.ProductionReport, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProductionReport{}, err
	}
	defer tx.Rollback()

	at := e.now()
	var ok bool
	if transition == "paused" {
		ok, err = e.Repo.PauseReport(ctx, tx, id, at, repo.FormatTime(at))
	} else {
		ok, err = e.Repo.ResumeReport(ctx, tx, id, at, repo.FormatTime(at))
	}
	if err != nil {
		return domain.ProductionReport{}, err
	}
	rep, err := e.Repo.GetReport(ctx, tx, id)
	if err != nil {
		return domain.ProductionReport{}, lookup(err, "report", id)
	}
	if !ok {
		return domain.ProductionReport{}, refuseTransition(rep, transition)
	}
	if err := e.append(ctx, tx, actor, "report."+transition, events.KindReport, rep.ID, events.EventPayload{
		"order_id": rep.OrderID, "at": repo.FormatTime(at),
	}); err != nil {
		return domain.ProductionReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProductionReport{}, err
	}
	metrics.ReportTransitions.WithLabelValues(transition).Inc()
	e.log().Info("report "+transition, reportFields(actor, rep)...)
	return rep, nil
}

// refuseTransition explains why a pause or resume did not apply to rep.
func refuseTransition(rep domain.ProductionReport, transition string) error {
	if rep.Sealed() || rep.EndTime != nil {
		return sealed(rep.ID, ErrInvalidTransition)
	}
	details := map[string]any{"report_id": rep.ID}
	if transition == "paused" {
		return newError(ErrInvalidTransition, details, "report %s is already paused", rep.ID)
	}
	if rep.PauseTime == nil {
		return newError(ErrInvalidTransition, details, "report %s is not paused", rep.ID)
	}
	return newError(ErrInvalidTransition, details, "report %s was already resumed", rep.ID)
}

// CompleteReport ends a report at endTime (now when nil), seals it with its total time and
// rolls the order status up, all in one transaction under the order lock.
func (e Engine) CompleteReport(ctx context.Context, actor Actor, id string, endTime *time.Time) (domain.ProductionReport, error) {
	var out domain.ProductionReport
	var res RollupResult
	err := e.inReportTx(ctx, id, nil, func(tx *sql.Tx, st reportState) error {
		rep := st.Report
		if rep.EndTime != nil || rep.Sealed() {
			done := newError(ErrAlreadyCompleted, map[string]any{"report_id": rep.ID}, "report %s is already completed", rep.ID)
			done.also = []error{ErrSealedRecord}
			return done
		}
		end := e.now()
		if endTime != nil {
			end = endTime.UTC().Truncate(time.Millisecond)
		}
		var err error
		rep, res, err = e.seal(ctx, tx, actor, st.Order, rep, end)
		out = rep
		return err
	})
	if err != nil {
		return domain.ProductionReport{}, err
	}
	e.afterSeal(actor, out, res)
	return out, nil
}

// seal computes the total time of rep ending at end, persists it and runs the rollup on
// order. order must be row-locked in tx.
func (e Engine) seal(ctx context.Context, tx *sql.Tx, actor Actor, order domain.ProductionOrder, rep domain.ProductionReport, end time.Time) (domain.ProductionReport, RollupResult, error) {
	total := TotalTime(rep.StartTime, rep.PauseTime, rep.ResumeTime, end)
	rep.EndTime = &end
	rep.TotalTime = &total
	rep.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateReport(ctx, tx, rep); err != nil {
		return rep, RollupResult{}, err
	}
	res, err := e.rollup().Apply(ctx, tx, order)
	if err != nil {
		return rep, res, err
	}
	if err := e.append(ctx, tx, actor, "report.completed", events.KindReport, rep.ID, events.EventPayload{
		"order_id": rep.OrderID, "step_id": rep.StepID, "end_time": repo.FormatTime(end), "total_time_ms": total.Milliseconds(),
	}); err != nil {
		return rep, res, err
	}
	if res.Changed() {
		if err := e.append(ctx, tx, actor, "order.status_changed", events.KindOrder, order.ID, events.EventPayload{
			"from": res.From, "to": res.To, "report_id": rep.ID,
		}); err != nil {
			return rep, res, err
		}
	}
	return rep, res, nil
}

func (e Engine) afterSeal(actor Actor, rep domain.ProductionReport, res RollupResult) {
	metrics.ReportTransitions.WithLabelValues("completed").Inc()
	metrics.ReportWorkSeconds.WithLabelValues(rep.StepID).Observe(rep.TotalTime.Seconds())
	fields := append(reportFields(actor, rep), zap.Duration("total_time", *rep.TotalTime))
	e.log().Info("report completed", fields...)
	if res.Changed() {
		metrics.OrderStatusChanges.WithLabelValues(res.From, res.To).Inc()
		e.log().Info("order status rolled up",
			zap.String("order_id", rep.OrderID), zap.String("from", res.From), zap.String("to", res.To),
			zap.Int("missing_steps", len(res.Missing)), zap.String("request_id", actor.RequestID))
	}
}

// EditReportInput lists the fields to change; nil and empty fields are left as they are.
type EditReportInput struct {
	OrderID    string
	StepID     string
	StartTime  *time.Time
	PauseTime  *time.Time
	ResumeTime *time.Time
	// EndTime completes the report the same way CompleteReport does.
	EndTime *time.Time
}

func (in EditReportInput) onlyEnd() bool {
	return in.EndTime != nil && in.OrderID == "" && in.StepID == "" &&
		in.StartTime == nil && in.PauseTime == nil && in.ResumeTime == nil
}

func truncated(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC().Truncate(time.Millisecond)
	return &v
}

// EditReport changes an open report. A sealed report is rejected from its persisted state.
// Field corrections require an open order; an edit that only sets end_time behaves like
// CompleteReport. Moving a report to another order locks both orders and requires the
// target to be open.
func (e Engine) EditReport(ctx context.Context, actor Actor, id string, in EditReportInput) (domain.ProductionReport, error) {
	var extra []string
	if in.OrderID != "" {
		extra = append(extra, in.OrderID)
	}
	var out domain.ProductionReport
	var res RollupResult
	completed := false
	err := e.inReportTx(ctx, id, extra, func(tx *sql.Tx, st reportState) error {
		rep := st.Report
		if rep.Sealed() {
			return sealed(rep.ID)
		}
		order := st.Order
		// Setting only end_time completes the report and is allowed wherever
		// CompleteReport is; corrections need an open order.
		if !in.onlyEnd() {
			if err := requireOpen(order); err != nil {
				return err
			}
		}
		changed := map[string]any{}
		if in.OrderID != "" && in.OrderID != rep.OrderID {
			target, err := e.Repo.LockOrder(ctx, tx, in.OrderID)
			if err != nil {
				return lookup(err, "order", in.OrderID)
			}
			if err := requireOpen(target); err != nil {
				return err
			}
			order = target
			rep.OrderID = target.ID
			changed["order_id"] = target.ID
		}
		if in.StepID != "" && in.StepID != rep.StepID {
			rep.StepID = in.StepID
			changed["step_id"] = in.StepID
		}
		if changed["order_id"] != nil || changed["step_id"] != nil {
			if err := e.checkStep(ctx, tx, order, rep.StepID); err != nil {
				return err
			}
		}
		if in.StartTime != nil {
			rep.StartTime = *truncated(in.StartTime)
			changed["start_time"] = repo.FormatTime(rep.StartTime)
		}
		if in.PauseTime != nil {
			rep.PauseTime = truncated(in.PauseTime)
			changed["pause_time"] = repo.FormatTime(*rep.PauseTime)
		}
		if in.ResumeTime != nil {
			rep.ResumeTime = truncated(in.ResumeTime)
			changed["resume_time"] = repo.FormatTime(*rep.ResumeTime)
		}
		if rep.ResumeTime != nil && rep.PauseTime == nil {
			return invalidInput("resume_time requires pause_time")
		}
		if len(changed) > 0 || in.EndTime != nil {
			if err := e.append(ctx, tx, actor, "report.updated", events.KindReport, rep.ID, events.EventPayload(changed)); err != nil {
				return err
			}
		}
		if in.EndTime != nil {
			var err error
			rep, res, err = e.seal(ctx, tx, actor, order, rep, *truncated(in.EndTime))
			if err != nil {
				return err
			}
			completed = true
			out = rep
			return nil
		}
		rep.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateReport(ctx, tx, rep); err != nil {
			return err
		}
		out = rep
		return nil
	})
	if err != nil {
		return domain.ProductionReport{}, err
	}
	metrics.ReportTransitions.WithLabelValues("updated").Inc()
	if completed {
		e.afterSeal(actor, out, res)
	} else {
		e.log().Info("report updated", reportFields(actor, out)...)
	}
	return out, nil
}

// DeleteReport removes an open report. Sealed reports cannot be deleted.
func (e Engine) DeleteReport(ctx context.Context, actor Actor, id string) error {
	var orderID string
	err := e.inReportTx(ctx, id, nil, func(tx *sql.Tx, st reportState) error {
		if st.Report.Sealed() {
			return sealed(st.Report.ID)
		}
		orderID = st.Report.OrderID
		if err := e.Repo.DeleteReport(ctx, tx, id); err != nil {
			return lookup(err, "report", id)
		}
		return e.append(ctx, tx, actor, "report.deleted", events.KindReport, id, events.EventPayload{
			"order_id": st.Report.OrderID, "step_id": st.Report.StepID,
		})
	})
	if err != nil {
		return err
	}
	metrics.ReportTransitions.WithLabelValues("deleted").Inc()
	e.log().Info("report deleted", zap.String("report_id", id), zap.String("order_id", orderID),
		zap.String("actor_id", actor.ID), zap.String("request_id", actor.RequestID))
	return nil
}

func reportFields(actor Actor, rep domain.ProductionReport) []zap.Field {
	return []zap.Field{
		zap.String("report_id", rep.ID),
		zap.String("order_id", rep.OrderID),
		zap.String("step_id", rep.StepID),
		zap.String("actor_id", actor.ID),
		zap.String("request_id", actor.RequestID),
	}
}
