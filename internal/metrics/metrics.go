package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReportTransitions counts report lifecycle writes by transition
	// (created, paused, resumed, completed, updated, deleted).
	ReportTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prodline_report_transitions_total",
		Help: "Production report lifecycle transitions",
	}, []string{"transition"})

	// OrderStatusChanges counts order status changes made by rollup or cancellation.
	OrderStatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prodline_order_status_changes_total",
		Help: "Production order status changes",
	}, []string{"from", "to"})

	ReportWorkSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prodline_report_work_seconds",
		Help:    "Accounted working time of completed reports",
		Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
	}, []string{"step_id"})

	RollupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prodline_rollup_duration_seconds",
		Help:    "Time spent recomputing order status after a completion",
		Buckets: prometheus.DefBuckets,
	})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prodline_order_lock_wait_seconds",
		Help:    "Time spent waiting for order locks",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prodline_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prodline_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prodline_webhook_deliveries_total",
		Help: "Webhook delivery attempts by hook and outcome",
	}, []string{"hook", "outcome"})
)
