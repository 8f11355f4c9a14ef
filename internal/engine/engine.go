package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"prodline/internal/db"
	"prodline/internal/domain"
	"prodline/internal/events"
	"prodline/internal/lock"
	"prodline/internal/metrics"
	"prodline/internal/repo"
)

// Actor identifies who performs an operation and the request it belongs to.
type Actor struct {
	ID        string
	RequestID string
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	// Locks serializes completion, edit and delete per order.
	Locks lock.Locker
	Log   *zap.Logger
	Now   func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect) Engine {
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Events: events.Writer{Dialect: dialect},
		Locks:  lock.NewMemory(),
		Log:    zap.NewNop(),
		Now:    time.Now,
	}
}

// now returns the current instant at storage precision.
func (e Engine) now() time.Time {
	var t time.Time
	if e.Now != nil {
		t = e.Now()
	} else {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Millisecond)
}

func (e Engine) stamp() string {
	return repo.FormatTime(e.now())
}

func (e Engine) log() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) append(ctx context.Context, tx *sql.Tx, actor Actor, evtType, kind, id string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.Now
	return w.Append(ctx, tx, evtType, kind, id, actor.ID, actor.RequestID, payload)
}

func (e Engine) lockOrders(ctx context.Context, orderIDs ...string) (func(), error) {
	if e.Locks == nil {
		return func() {}, nil
	}
	start := time.Now()
	release, err := e.Locks.Acquire(ctx, orderIDs...)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	return release, err
}

var errReportMoved = errors.New("report moved to another order")

// inReportTx runs fn in a transaction that holds the lock of the report's order (and of
// any extra orders) and row locks on that order and on the report. The report and order
// passed to fn are read inside the transaction.
func (e Engine) inReportTx(ctx context.Context, reportID string, extraOrders []string, fn func(tx *sql.Tx, rep reportState) error) error {
	for attempt := 0; ; attempt++ {
		peek, err := e.Repo.GetReport(ctx, nil, reportID)
		if err != nil {
			return lookup(err, "report", reportID)
		}
		release, err := e.lockOrders(ctx, append([]string{peek.OrderID}, extraOrders...)...)
		if err != nil {
			return err
		}
		err = e.reportTx(ctx, reportID, peek.OrderID, fn)
		release()
		if errors.Is(err, errReportMoved) {
			if attempt < 3 {
				continue
			}
			return fmt.Errorf("report %s: %w", reportID, err)
		}
		return err
	}
}

func (e Engine) reportTx(ctx context.Context, reportID, lockedOrder string, fn func(tx *sql.Tx, rep reportState) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	order, err := e.Repo.LockOrder(ctx, tx, lockedOrder)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return errReportMoved
		}
		return err
	}
	rep, err := e.Repo.LockReport(ctx, tx, reportID)
	if err != nil {
		return lookup(err, "report", reportID)
	}
	if rep.OrderID != lockedOrder {
		return errReportMoved
	}
	if err := fn(tx, reportState{Report: rep, Order: order}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListEvents tails the audit log, newest first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
