package domain

import "time"

// Order statuses.
const (
	OrderPending    = "pending"
	OrderInProgress = "in_progress"
	OrderCompleted  = "completed"
	OrderCanceled   = "canceled"
)

type Workshop struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Process struct {
	ID        string        `json:"id"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	IsActive  bool          `json:"is_active"`
	Steps     []ProcessStep `json:"steps,omitempty"`
	CreatedAt string        `json:"created_at" format:"date-time"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
}

// ProcessStep sorts by (ProcessID, Order).
type ProcessStep struct {
	ID        string `json:"id"`
	ProcessID string `json:"process_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type ProductionOrder struct {
	ID               string `json:"id"`
	OrderNumber      string `json:"order_number"`
	ProductionNumber string `json:"production_number"`
	ProductName      string `json:"product_name"`
	OrderDate        string `json:"order_date" format:"date"`
	PlannedStartDate string `json:"planned_start_date" format:"date"`
	PlannedEndDate   string `json:"planned_end_date" format:"date"`
	ProcessID        string `json:"process_id"`
	WorkshopID       string `json:"workshop_id"`
	Status           string `json:"status" enum:"pending,in_progress,completed,canceled"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

// Open reports an order that still accepts new production reports.
func (o ProductionOrder) Open() bool {
	return o.Status == OrderPending || o.Status == OrderInProgress
}

type ProductionReport struct {
	ID         string
	OrderID    string
	StepID     string
	StartTime  time.Time
	PauseTime  *time.Time
	ResumeTime *time.Time
	EndTime    *time.Time
	TotalTime  *time.Duration
	CreatorID  string
	CreatedAt  string
	UpdatedAt  string
}

// Sealed reports a report whose total time has been computed; it accepts no further writes.
func (r ProductionReport) Sealed() bool {
	return r.TotalTime != nil
}

// Paused reports a report suspended and not yet resumed.
func (r ProductionReport) Paused() bool {
	return r.PauseTime != nil && r.ResumeTime == nil && r.EndTime == nil
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	RequestID  string `json:"request_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// StepProgress is the coverage state of one active step on an order.
type StepProgress struct {
	StepID      string        `json:"step_id"`
	Code        string        `json:"code"`
	Name        string        `json:"name"`
	Order       int           `json:"order"`
	Covered     bool          `json:"covered"`
	Reports     int           `json:"reports"`
	OpenReports int           `json:"open_reports"`
	TotalTime   time.Duration `json:"total_time_ns"`
}

type OrderProgress struct {
	OrderID  string         `json:"order_id"`
	Status   string         `json:"status"`
	Steps    []StepProgress `json:"steps"`
	Covered  []string       `json:"covered"`
	Missing  []string       `json:"missing"`
	Complete bool           `json:"complete"`
}
