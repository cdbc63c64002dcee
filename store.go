package canvas

import (
	"context"
)

// Store defines the contract for persisting canvases and runs on the server side.
type Store interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// Canvases
	CreateCanvas(ctx context.Context, doc *Document) (*Document, error)
	GetCanvas(ctx context.Context, id string) (*Document, error)
	SaveCanvas(ctx context.Context, id string, g *Graph) (int, error)
	ListCanvases(ctx context.Context, projectID string) ([]Document, error)
	DeleteCanvas(ctx context.Context, id string) error

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

// GraphService is the remote canvas API consumed by the client-side engine.
type GraphService interface {
	GetGraph(ctx context.Context, id string) (*Document, error)
	SaveGraph(ctx context.Context, id string, g *Graph) error
	CreateGraph(ctx context.Context, projectID, name, description string) (*Document, error)
}

// RunService is the remote execution API consumed by the client-side engine.
type RunService interface {
	StartRun(ctx context.Context, req StartRequest) (string, error)
	CancelRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

// Subscription delivers the live events of one run until closed by the consumer.
// The events channel is closed when the stream ends for any reason.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Subscriber opens one subscription per run id.
type Subscriber interface {
	Subscribe(ctx context.Context, runID string) (Subscription, error)
}

// Level is the severity of a user-visible notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a non-blocking message for the user.
type Notification struct {
	Level   Level
	Message string
	Err     error
}

// Notifier surfaces user-visible notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }
