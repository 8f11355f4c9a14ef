package prodlinesdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a minimal prodline HTTP API client.
type Client struct {
	BaseURL string
	// BearerToken takes precedence over ActorID.
	BearerToken string
	ActorID     string
	Timeout     time.Duration
	Retries     int

	rest *resty.Client
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g.
// http://127.0.0.1:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Order struct {
	ID               string `json:"id"`
	OrderNumber      string `json:"order_number"`
	ProductionNumber string `json:"production_number"`
	ProductName      string `json:"product_name"`
	OrderDate        string `json:"order_date"`
	PlannedStartDate string `json:"planned_start_date"`
	PlannedEndDate   string `json:"planned_end_date"`
	ProcessID        string `json:"process_id"`
	WorkshopID       string `json:"workshop_id"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// Report is a production report. Completed reports carry EndTime and TotalTimeMS.
type Report struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"order_id"`
	StepID      string  `json:"step_id"`
	StartTime   string  `json:"start_time"`
	PauseTime   *string `json:"pause_time,omitempty"`
	ResumeTime  *string `json:"resume_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	TotalTimeMS *int64  `json:"total_time_ms,omitempty"`
	TotalTime   string  `json:"total_time,omitempty"`
	Paused      bool    `json:"paused"`
	Completed   bool    `json:"completed"`
	CreatorID   string  `json:"creator_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

type StepProgress struct {
	StepID      string `json:"step_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Order       int    `json:"order"`
	Covered     bool   `json:"covered"`
	Reports     int    `json:"reports"`
	OpenReports int    `json:"open_reports"`
	TotalTimeMS int64  `json:"total_time_ms"`
}

type OrderProgress struct {
	OrderID  string         `json:"order_id"`
	Status   string         `json:"status"`
	Steps    []StepProgress `json:"steps"`
	Covered  []string       `json:"covered"`
	Missing  []string       `json:"missing"`
	Complete bool           `json:"complete"`
}

// Event represents a log entry.
type Event struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id"`
	RequestID  string          `json:"request_id"`
	Payload    json.RawMessage `json:"payload"`
}

// PaginatedEvents wraps event listings with a cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// StartReport opens a report on a step of an order. A zero start means now.
func (c *Client) StartReport(ctx context.Context, orderID, stepID string, start time.Time) (Report, error) {
	body := map[string]any{
		"order_id": orderID,
		"step_id":  stepID,
	}
	if !start.IsZero() {
		body["start_time"] = start.UTC()
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports", nil, body, &resp)
	return resp, err
}

func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "reports/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// Reports lists reports of an order, newest first.
func (c *Client) Reports(ctx context.Context, orderID string) ([]Report, error) {
	var resp []Report
	err := c.do(ctx, http.MethodGet, "reports", url.Values{"order_id": {orderID}}, nil, &resp)
	return resp, err
}

func (c *Client) PauseReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports/"+url.PathEscape(id)+"/pause", nil, nil, &resp)
	return resp, err
}

func (c *Client) ResumeReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports/"+url.PathEscape(id)+"/resume", nil, nil, &resp)
	return resp, err
}

// CompleteReport seals a report. A nil end means now.
func (c *Client) CompleteReport(ctx context.Context, id string, end *time.Time) (Report, error) {
	var body any
	if end != nil {
		body = map[string]any{"end_time": end.UTC()}
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports/"+url.PathEscape(id)+"/complete", nil, body, &resp)
	return resp, err
}

func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, "orders/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// Orders lists orders, optionally narrowed to one status.
func (c *Client) Orders(ctx context.Context, status string) ([]Order, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp []Order
	err := c.do(ctx, http.MethodGet, "orders", q, nil, &resp)
	return resp, err
}

func (c *Client) OrderProgress(ctx context.Context, id string) (OrderProgress, error) {
	var resp OrderProgress
	err := c.do(ctx, http.MethodGet, "orders/"+url.PathEscape(id)+"/progress", nil, nil, &resp)
	return resp, err
}

// EventsPage returns a page of events, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, "events", q, nil, &resp)
	return resp, err
}

func (c *Client) client() *resty.Client {
	if c.rest == nil {
		c.rest = resty.New().
			SetTimeout(c.Timeout).
			SetRetryCount(c.Retries).
			SetHeader("Accept", "application/json")
	}
	return c.rest
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	var envelope errorEnvelope
	req := c.client().R().
		SetContext(ctx).
		SetError(&envelope)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	switch {
	case c.BearerToken != "":
		req.SetAuthToken(c.BearerToken)
	case c.ActorID != "":
		req.SetHeader("X-Actor-Id", c.ActorID)
	}
	res, err := req.Execute(method, c.base()+"/"+strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return err
	}
	if res.IsError() {
		apiErr := &APIError{
			StatusCode: res.StatusCode(),
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
			Details:    envelope.Error.Details,
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(res.Body()))
		}
		return apiErr
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
