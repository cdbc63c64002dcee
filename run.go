package canvas

import (
	"time"

	json "github.com/goccy/go-json"
)

// RunStatus is the lifecycle state of an execution run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are valid from s.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run is one remote execution attempt of a graph.
type Run struct {
	ID            string          `json:"run_id"`
	CanvasID      string          `json:"canvas_id,omitempty"`
	WorkflowID    string          `json:"workflow_id,omitempty"`
	Status        RunStatus       `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ExecutionTime *float64        `json:"execution_time,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	OutputData    json.RawMessage `json:"output_data,omitempty"`
}

// LogEntry is one line of a run's live log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// EventType names the kind of message delivered on a run subscription.
type EventType string

const (
	EventLog          EventType = "log"
	EventStatusUpdate EventType = "status_update"
)

// Event is one message of a run's live event stream.
type Event struct {
	Type          EventType       `json:"type"`
	RunID         string          `json:"run_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Message       string          `json:"message,omitempty"`
	Status        RunStatus       `json:"status,omitempty"`
	ExecutionTime *float64        `json:"execution_time,omitempty"`
	ErrorMessage  *string         `json:"error_message,omitempty"`
	OutputData    json.RawMessage `json:"output_data,omitempty"`
}

// Validate rejects events the monitor cannot fold.
func (e Event) Validate() error {
	switch e.Type {
	case EventLog:
		return nil
	case EventStatusUpdate:
		if !e.Status.Valid() {
			return NewValidationError("status", "unknown run status "+string(e.Status))
		}
		return nil
	}
	return NewValidationError("type", "unknown event type "+string(e.Type))
}

// Apply folds a status_update event into r. It returns false when r is
// already terminal or the event carries no status change.
func (r *Run) Apply(e Event, now time.Time) bool {
	if e.Type != EventStatusUpdate || r.Status.Terminal() || !e.Status.Valid() {
		return false
	}
	r.Status = e.Status
	if e.ExecutionTime != nil {
		v := *e.ExecutionTime
		r.ExecutionTime = &v
	}
	if e.ErrorMessage != nil {
		v := *e.ErrorMessage
		r.ErrorMessage = &v
	}
	if len(e.OutputData) > 0 {
		r.OutputData = append(json.RawMessage(nil), e.OutputData...)
	}
	if r.Status.Terminal() {
		r.finish(now)
	}
	return true
}

// Cancel forces r into the cancelled state. It returns false when r is already terminal.
func (r *Run) Cancel(now time.Time) bool {
	if r.Status.Terminal() {
		return false
	}
	r.Status = StatusCancelled
	r.finish(now)
	return true
}

func (r *Run) finish(now time.Time) {
	if r.CompletedAt == nil {
		t := now
		r.CompletedAt = &t
	}
	if r.ExecutionTime == nil && !r.StartedAt.IsZero() {
		d := now.Sub(r.StartedAt).Seconds()
		r.ExecutionTime = &d
	}
}

// RunFilter narrows a run listing.
type RunFilter struct {
	CanvasID string
	Status   RunStatus
	Limit    int
}

// Match reports whether r passes the filter, ignoring Limit.
func (f RunFilter) Match(r Run) bool {
	if f.CanvasID != "" && r.CanvasID != f.CanvasID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// StartRequest is the payload of a start-execution call.
type StartRequest struct {
	CanvasID   string `json:"canvas_id"`
	CanvasData Graph  `json:"canvas_data"`
	WorkflowID string `json:"workflow_id"`
}
