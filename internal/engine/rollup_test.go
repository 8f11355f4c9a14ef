package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodline/internal/domain"
)

func TestTotalTime(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 3, 4, h, m, 0, 0, time.UTC) }
	ptr := func(t time.Time) *time.Time { return &t }
	cases := []struct {
		name          string
		start, end    time.Time
		pause, resume *time.Time
		want          time.Duration
	}{
		{"plain", at(9, 0), at(10, 0), nil, nil, time.Hour},
		{"paused and resumed", at(10, 0), at(12, 0), ptr(at(10, 30)), ptr(at(10, 45)), time.Hour + 45*time.Minute},
		{"unresumed pause", at(9, 0), at(11, 0), ptr(at(9, 20)), nil, 2 * time.Hour},
		{"resume without pause", at(9, 0), at(11, 0), nil, ptr(at(9, 20)), 2 * time.Hour},
		{"zero", at(9, 0), at(9, 0), nil, nil, 0},
		{"end before start", at(10, 0), at(9, 0), nil, nil, -time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TotalTime(tc.start, tc.pause, tc.resume, tc.end), tc.name)
	}
}

func TestNextStatus(t *testing.T) {
	cases := []struct {
		current string
		covered bool
		want    string
	}{
		{domain.OrderPending, false, domain.OrderInProgress},
		{domain.OrderPending, true, domain.OrderCompleted},
		{domain.OrderInProgress, false, domain.OrderInProgress},
		{domain.OrderInProgress, true, domain.OrderCompleted},
		{domain.OrderCompleted, false, domain.OrderCompleted},
		{domain.OrderCanceled, true, domain.OrderCanceled},
		{domain.OrderCanceled, false, domain.OrderCanceled},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NextStatus(tc.current, tc.covered), "%s covered=%v", tc.current, tc.covered)
	}
}

type fakeSteps map[string][]string

func (f fakeSteps) ActiveStepIDs(_ context.Context, _ *sql.Tx, processID string) ([]string, error) {
	return f[processID], nil
}

type fakeOrders struct {
	covered map[string][]string
	status  map[string]string
	failSet error
}

func (f *fakeOrders) CoveredStepIDs(_ context.Context, _ *sql.Tx, orderID string) ([]string, error) {
	return f.covered[orderID], nil
}

func (f *fakeOrders) SetOrderStatus(_ context.Context, _ *sql.Tx, id, status, _ string) error {
	if f.failSet != nil {
		return f.failSet
	}
	f.status[id] = status
	return nil
}

func TestRollupApply(t *testing.T) {
	steps := fakeSteps{"p1": {"s1", "s2", "s3"}}
	orders := &fakeOrders{covered: map[string][]string{"o1": {"s2", "s9"}}, status: map[string]string{}}
	r := Rollup{Steps: steps, Orders: orders}
	order := domain.ProductionOrder{ID: "o1", ProcessID: "p1", Status: domain.OrderPending}

	res, err := r.Apply(context.Background(), nil, order)
	require.NoError(t, err)
	assert.True(t, res.Changed())
	assert.Equal(t, domain.OrderInProgress, res.To)
	assert.Equal(t, []string{"s1", "s3"}, res.Missing)
	assert.Equal(t, domain.OrderInProgress, orders.status["o1"])

	orders.covered["o1"] = []string{"s3", "s1", "s2"}
	order.Status = domain.OrderInProgress
	res, err = r.Apply(context.Background(), nil, order)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, res.To)
	assert.Empty(t, res.Missing)

	// Unchanged status is not written.
	delete(orders.status, "o1")
	order.Status = domain.OrderCompleted
	res, err = r.Apply(context.Background(), nil, order)
	require.NoError(t, err)
	assert.False(t, res.Changed())
	assert.NotContains(t, orders.status, "o1")
}

func TestRollupApplyPropagatesWriteFailure(t *testing.T) {
	boom := errors.New("disk full")
	orders := &fakeOrders{covered: map[string][]string{}, status: map[string]string{}, failSet: boom}
	r := Rollup{Steps: fakeSteps{"p1": {"s1"}}, Orders: orders}
	_, err := r.Apply(context.Background(), nil, domain.ProductionOrder{ID: "o1", ProcessID: "p1", Status: domain.OrderPending})
	require.ErrorIs(t, err, boom)
}

func TestErrorCodes(t *testing.T) {
	assert.Equal(t, "sealed_record", Code(sealed("r1", ErrInvalidTransition)))
	assert.Equal(t, "not_found", Code(notFound("order", "o1")))
	assert.Equal(t, "internal", Code(errors.New("boom")))
	err := sealed("r1", ErrInvalidTransition)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "report r1 is completed and can no longer be changed", err.Error())
}
