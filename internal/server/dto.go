package server

import (
	"encoding/json"
	"time"

	"prodline/internal/domain"
	"prodline/internal/repo"
)

// Request payloads

type CreateWorkshopRequest struct {
	Name     string `json:"name" minLength:"1"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type UpdateWorkshopRequest struct {
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateProcessRequest struct {
	Code     string `json:"code" minLength:"1"`
	Name     string `json:"name" minLength:"1"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type UpdateProcessRequest struct {
	Code     *string `json:"code,omitempty"`
	Name     *string `json:"name,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateStepRequest struct {
	Code     string `json:"code" minLength:"1"`
	Name     string `json:"name" minLength:"1"`
	Order    int    `json:"order,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

type UpdateStepRequest struct {
	Code     *string `json:"code,omitempty"`
	Name     *string `json:"name,omitempty"`
	Order    *int    `json:"order,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateOrderRequest struct {
	OrderNumber      string `json:"order_number" minLength:"1"`
	ProductionNumber string `json:"production_number" minLength:"1"`
	ProductName      string `json:"product_name" minLength:"1"`
	OrderDate        string `json:"order_date,omitempty" format:"date"`
	PlannedStartDate string `json:"planned_start_date" format:"date"`
	PlannedEndDate   string `json:"planned_end_date" format:"date"`
	ProcessID        string `json:"process_id" minLength:"1"`
	WorkshopID       string `json:"workshop_id" minLength:"1"`
}

type UpdateOrderRequest struct {
	OrderNumber      *string `json:"order_number,omitempty"`
	ProductionNumber *string `json:"production_number,omitempty"`
	ProductName      *string `json:"product_name,omitempty"`
	OrderDate        *string `json:"order_date,omitempty"`
	PlannedStartDate *string `json:"planned_start_date,omitempty"`
	PlannedEndDate   *string `json:"planned_end_date,omitempty"`
	WorkshopID       *string `json:"workshop_id,omitempty"`
}

type CreateReportRequest struct {
	OrderID   string     `json:"order_id" minLength:"1"`
	StepID    string     `json:"step_id" minLength:"1"`
	StartTime *time.Time `json:"start_time,omitempty"`
}

type EditReportRequest struct {
	OrderID    string     `json:"order_id,omitempty"`
	StepID     string     `json:"step_id,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	PauseTime  *time.Time `json:"pause_time,omitempty"`
	ResumeTime *time.Time `json:"resume_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
}

type CompleteReportRequest struct {
	EndTime *time.Time `json:"end_time,omitempty"`
}

// Responses

type ReportResponse struct {
	ID          string  `json:"id"`
	OrderID     string  `json:"order_id"`
	StepID      string  `json:"step_id"`
	StartTime   string  `json:"start_time" format:"date-time"`
	PauseTime   *string `json:"pause_time,omitempty" format:"date-time"`
	ResumeTime  *string `json:"resume_time,omitempty" format:"date-time"`
	EndTime     *string `json:"end_time,omitempty" format:"date-time"`
	TotalTimeMS *int64  `json:"total_time_ms,omitempty"`
	TotalTime   string  `json:"total_time,omitempty" example:"1h45m0s"`
	Paused      bool    `json:"paused"`
	Completed   bool    `json:"completed"`
	CreatorID   string  `json:"creator_id"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type StepProgressResponse struct {
	StepID      string `json:"step_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Order       int    `json:"order"`
	Covered     bool   `json:"covered"`
	Reports     int    `json:"reports"`
	OpenReports int    `json:"open_reports"`
	TotalTimeMS int64  `json:"total_time_ms"`
}

type OrderProgressResponse struct {
	OrderID  string                 `json:"order_id"`
	Status   string                 `json:"status"`
	Steps    []StepProgressResponse `json:"steps"`
	Covered  []string               `json:"covered"`
	Missing  []string               `json:"missing"`
	Complete bool                   `json:"complete"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	RequestID  string          `json:"request_id,omitempty"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := repo.FormatTime(*t)
	return &s
}

func reportResponse(r domain.ProductionReport) ReportResponse {
	resp := ReportResponse{
		ID:         r.ID,
		OrderID:    r.OrderID,
		StepID:     r.StepID,
		StartTime:  repo.FormatTime(r.StartTime),
		PauseTime:  timeString(r.PauseTime),
		ResumeTime: timeString(r.ResumeTime),
		EndTime:    timeString(r.EndTime),
		Paused:     r.Paused(),
		Completed:  r.EndTime != nil,
		CreatorID:  r.CreatorID,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.TotalTime != nil {
		ms := r.TotalTime.Milliseconds()
		resp.TotalTimeMS = &ms
		resp.TotalTime = r.TotalTime.String()
	}
	return resp
}

func mapReports(items []domain.ProductionReport) []ReportResponse {
	out := make([]ReportResponse, 0, len(items))
	for _, r := range items {
		out = append(out, reportResponse(r))
	}
	return out
}

func progressResponse(p domain.OrderProgress) OrderProgressResponse {
	resp := OrderProgressResponse{
		OrderID:  p.OrderID,
		Status:   p.Status,
		Steps:    make([]StepProgressResponse, 0, len(p.Steps)),
		Covered:  p.Covered,
		Missing:  p.Missing,
		Complete: p.Complete,
	}
	for _, s := range p.Steps {
		resp.Steps = append(resp.Steps, StepProgressResponse{
			StepID:      s.StepID,
			Code:        s.Code,
			Name:        s.Name,
			Order:       s.Order,
			Covered:     s.Covered,
			Reports:     s.Reports,
			OpenReports: s.OpenReports,
			TotalTimeMS: s.TotalTime.Milliseconds(),
		})
	}
	return resp
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		RequestID:  evt.RequestID,
		Payload:    payload,
	}
}

func orDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
