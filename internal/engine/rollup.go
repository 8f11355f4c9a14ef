package engine

import (
	"context"
	"database/sql"
	"time"

	"prodline/internal/domain"
	"prodline/internal/metrics"
	"prodline/internal/repo"
)

// StepCatalog lists the steps of a process that count toward coverage.
type StepCatalog interface {
	ActiveStepIDs(ctx context.Context, tx *sql.Tx, processID string) ([]string, error)
}

// CoverageStore reads which steps of an order are covered and writes order status.
type CoverageStore interface {
	CoveredStepIDs(ctx context.Context, tx *sql.Tx, orderID string) ([]string, error)
	SetOrderStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error
}

// Rollup derives an order's status from the coverage of its process's active steps.
// Apply must run in the transaction that completed the report.
type Rollup struct {
	Steps  StepCatalog
	Orders CoverageStore
	Now    func() time.Time
}

type RollupResult struct {
	From    string
	To      string
	Missing []string
}

func (r RollupResult) Changed() bool { return r.From != r.To }

func (e Engine) rollup() Rollup {
	return Rollup{Steps: e.Repo, Orders: e.Repo, Now: e.now}
}

func (r Rollup) Apply(ctx context.Context, tx *sql.Tx, order domain.ProductionOrder) (RollupResult, error) {
	start := time.Now()
	defer func() { metrics.RollupDuration.Observe(time.Since(start).Seconds()) }()

	res := RollupResult{From: order.Status, To: order.Status}
	active, err := r.Steps.ActiveStepIDs(ctx, tx, order.ProcessID)
	if err != nil {
		return res, err
	}
	covered, err := r.Orders.CoveredStepIDs(ctx, tx, order.ID)
	if err != nil {
		return res, err
	}
	res.Missing = missingSteps(active, covered)
	res.To = NextStatus(order.Status, len(res.Missing) == 0)
	if !res.Changed() {
		return res, nil
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if err := r.Orders.SetOrderStatus(ctx, tx, order.ID, res.To, repo.FormatTime(now())); err != nil {
		return res, err
	}
	return res, nil
}

// NextStatus is the status an order moves to after a completion. Completed and canceled
// orders never change; a fully covered order completes; a pending order starts.
func NextStatus(current string, fullyCovered bool) string {
	switch current {
	case domain.OrderCompleted, domain.OrderCanceled:
		return current
	}
	if fullyCovered {
		return domain.OrderCompleted
	}
	if current == domain.OrderPending {
		return domain.OrderInProgress
	}
	return current
}

// missingSteps returns the active steps without a completed report, in active order.
func missingSteps(active, covered []string) []string {
	seen := make(map[string]struct{}, len(covered))
	for _, id := range covered {
		seen[id] = struct{}{}
	}
	var missing []string
	for _, id := range active {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
