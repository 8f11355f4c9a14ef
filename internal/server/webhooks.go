package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"prodline/internal/config"
	"prodline/internal/domain"
	"prodline/internal/metrics"
	"prodline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// EventSource is the slice of the repository the dispatcher reads.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

var _ EventSource = repo.Repo{}

type webhook struct {
	config.Webhook
	filter eventFilter
	when   *vm.Program
	client *resty.Client
}

// Dispatcher delivers new events to each configured hook in log order. Each hook keeps
// its own cursor; a failed delivery stops that hook's batch and is retried on the next tick.
type Dispatcher struct {
	source  EventSource
	hooks   []*webhook
	log     *zap.Logger
	mu      sync.Mutex
	cursors map[string]int64
}

func NewDispatcher(source EventSource, hooks []config.Webhook, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{source: source, log: logger, cursors: map[string]int64{}}
	for _, h := range hooks {
		w := &webhook{Webhook: h, filter: newEventFilter(h.Events)}
		if strings.TrimSpace(h.When) != "" {
			program, err := expr.Compile(h.When, expr.Env(eventEnv(domain.Event{})), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("webhook %s: compile when: %w", h.Name, err)
			}
			w.when = program
		}
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		w.client = resty.New().
			SetTimeout(timeout).
			SetRetryCount(h.Retries).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			SetHeader("Content-Type", "application/json")
		d.hooks = append(d.hooks, w)
	}
	return d, nil
}

// Run dispatches until ctx is done. Hooks start at the end of the log as it is when Run
// starts.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	if len(d.hooks) == 0 {
		return
	}
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for _, h := range d.hooks {
		d.dispatch(ctx, h)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, h *webhook) {
	cursor, err := d.cursorFor(ctx, h.Name)
	if err != nil {
		d.log.Warn("webhook cursor init failed", zap.String("hook", h.Name), zap.Error(err))
		return
	}
	events, err := d.source.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.log.Warn("webhook fetch events failed", zap.String("hook", h.Name), zap.Error(err))
		return
	}
	for _, evt := range events {
		ok, err := h.match(evt)
		if err != nil {
			d.log.Warn("webhook filter failed", zap.String("hook", h.Name), zap.Int64("event_id", evt.ID), zap.Error(err))
		}
		if !ok {
			metrics.WebhookDeliveries.WithLabelValues(h.Name, "skipped").Inc()
			d.setCursor(h.Name, evt.ID)
			continue
		}
		if err := h.post(ctx, evt); err != nil {
			metrics.WebhookDeliveries.WithLabelValues(h.Name, "failed").Inc()
			d.log.Warn("webhook delivery failed", zap.String("hook", h.Name), zap.Int64("event_id", evt.ID), zap.Error(err))
			return
		}
		metrics.WebhookDeliveries.WithLabelValues(h.Name, "delivered").Inc()
		d.setCursor(h.Name, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, name string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[name]; ok {
		return cur, nil
	}
	cur, err := d.source.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	d.cursors[name] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(name string, value int64) {
	d.mu.Lock()
	d.cursors[name] = value
	d.mu.Unlock()
}

// Cursor returns the id of the last event handled by a hook.
func (d *Dispatcher) Cursor(name string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursors[name]
}

func (h *webhook) match(evt domain.Event) (bool, error) {
	if !h.filter.match(evt.Type) {
		return false, nil
	}
	if h.when == nil {
		return true, nil
	}
	out, err := expr.Run(h.when, eventEnv(evt))
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}

func eventEnv(evt domain.Event) map[string]any {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return map[string]any{
		"id":          evt.ID,
		"type":        evt.Type,
		"entity_kind": evt.EntityKind,
		"entity_id":   evt.EntityID,
		"actor_id":    evt.ActorID,
		"request_id":  evt.RequestID,
		"payload":     payload,
	}
}

func (h *webhook) post(ctx context.Context, evt domain.Event) error {
	res, err := h.client.R().
		SetContext(ctx).
		SetHeader("X-Prodline-Event", evt.Type).
		SetHeader("X-Prodline-Delivery", strconv.FormatInt(evt.ID, 10)).
		SetBody(eventResponse(evt)).
		Post(h.URL)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("status %d: %s", res.StatusCode(), strings.TrimSpace(string(res.Body())))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
