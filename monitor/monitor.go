// Package monitor follows remote execution runs of a canvas.
//
// A Monitor holds at most one active run. Starting a run opens a live
// subscription whose log and status_update events are folded into the run
// until a terminal status arrives; the subscription is then closed and the
// run history refreshed. Terminal runs never change again.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/notify"
	"go.uber.org/zap"
)

// DefaultRefreshTimeout bounds the history refresh triggered by a terminal status.
const DefaultRefreshTimeout = 15 * time.Second

// Option configures a Monitor.
type Option func(*Monitor)

// WithNotifier sets where start, cancel and stream failures are reported.
func WithNotifier(n canvas.Notifier) Option {
	return func(m *Monitor) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithLogger sets the logger; the default discards.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l.Named("monitor")
		}
	}
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRefreshTimeout bounds the history refresh after a run finishes.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.refreshTimeout = d
		}
	}
}

// Monitor is the execution state of one canvas editor.
type Monitor struct {
	runs           canvas.RunService
	subscriber     canvas.Subscriber
	notifier       canvas.Notifier
	log            *zap.Logger
	now            func() time.Time
	refreshTimeout time.Duration

	mu           sync.Mutex
	gen          uint64
	current      *canvas.Run
	logs         []canvas.LogEntry
	history      []canvas.Run
	subscription canvas.Subscription
	done         chan struct{}
	listeners    []func()
	closed       bool

	wg sync.WaitGroup
}

// New returns a monitor that starts runs through runs and follows them through subscriber.
func New(runs canvas.RunService, subscriber canvas.Subscriber, opts ...Option) *Monitor {
	m := &Monitor{
		runs:           runs,
		subscriber:     subscriber,
		notifier:       notify.Discard,
		log:            zap.NewNop(),
		now:            time.Now,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartExecution submits g for execution and begins following the new run.
// An empty graph is rejected locally without a network call. If the live
// subscription cannot be opened the run is still returned, left at running,
// and the failure is reported as a notification.
func (m *Monitor) StartExecution(ctx context.Context, canvasID string, g *canvas.Graph) (canvas.Run, error) {
	if g.Empty() {
		err := &canvas.ValidationError{Field: "nodes", Reason: "canvas is empty, nothing to execute", Err: canvas.ErrEmptyGraph}
		m.notifier.Notify(notify.Error("Canvas is empty, nothing to execute", err))
		return canvas.Run{}, err
	}
	if m.isClosed() {
		return canvas.Run{}, canvas.ErrClosed
	}

	started := m.now()
	req := canvas.StartRequest{
		CanvasID:   canvasID,
		CanvasData: *g.Clone(),
		WorkflowID: fmt.Sprintf("workflow_%d", started.UnixMilli()),
	}
	runID, err := m.runs.StartRun(ctx, req)
	if err != nil {
		m.log.Warn("start run failed", zap.String("canvas_id", canvasID), zap.Error(err))
		m.notifier.Notify(notify.Error("Execution failed to start", err))
		return canvas.Run{}, err
	}

	sub, subErr := m.subscriber.Subscribe(ctx, runID)
	if subErr != nil {
		if !canvas.IsStream(subErr) {
			subErr = &canvas.StreamError{RunID: runID, Err: subErr}
		}
		m.log.Warn("subscribe failed", zap.String("run_id", runID), zap.Error(subErr))
	}

	run := &canvas.Run{
		ID:         runID,
		CanvasID:   canvasID,
		WorkflowID: req.WorkflowID,
		Status:     canvas.StatusRunning,
		StartedAt:  started,
	}

	done := make(chan struct{})
	m.mu.Lock()
	prev := m.stopLocked()
	gen := m.gen
	m.current = run
	m.logs = nil
	m.subscription = sub
	m.done = done
	m.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	if sub != nil {
		m.wg.Add(1)
		go m.consume(gen, done, run.ID, canvasID, sub)
	} else {
		m.notifier.Notify(notify.Error("Live execution updates are unavailable", subErr))
	}

	m.log.Info("run started", zap.String("run_id", runID), zap.String("canvas_id", canvasID))
	m.notifier.Notify(notify.Success("Workflow execution started"))
	m.emit()
	return *run, nil
}

// stopLocked retires the active subscription. Its consumer exits and any
// event still in flight for it is dropped.
func (m *Monitor) stopLocked() canvas.Subscription {
	m.gen++
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	sub := m.subscription
	m.subscription = nil
	return sub
}

func (m *Monitor) consume(gen uint64, done <-chan struct{}, runID, canvasID string, sub canvas.Subscription) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				m.streamEnded(gen, runID, sub)
				return
			}
			if m.handle(gen, runID, ev) {
				_ = sub.Close()
				m.refresh(canvasID)
				return
			}
		}
	}
}

func (m *Monitor) streamEnded(gen uint64, runID string, sub canvas.Subscription) {
	m.mu.Lock()
	active := gen == m.gen
	if active {
		m.subscription = nil
	}
	m.mu.Unlock()
	if active {
		m.log.Warn("stream ended before run finished",
			zap.String("run_id", runID),
			zap.Error(sub.Err()))
	}
}

// handle folds ev into the active run. It reports whether the run just
// reached a terminal status.
func (m *Monitor) handle(gen uint64, runID string, ev canvas.Event) bool {
	if err := ev.Validate(); err != nil {
		m.log.Warn("ignoring malformed event", zap.String("run_id", runID), zap.Error(err))
		return false
	}
	if ev.RunID != "" && ev.RunID != runID {
		m.log.Debug("ignoring event for another run", zap.String("run_id", ev.RunID))
		return false
	}

	m.mu.Lock()
	if gen != m.gen || m.current == nil || m.current.Status.Terminal() {
		m.mu.Unlock()
		return false
	}
	terminal := false
	switch ev.Type {
	case canvas.EventLog:
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = m.now()
		}
		m.logs = append(m.logs, canvas.LogEntry{Timestamp: ts, Message: ev.Message})
	case canvas.EventStatusUpdate:
		m.current.Apply(ev, m.now())
		if m.current.Status.Terminal() {
			terminal = true
			m.subscription = nil
		}
	}
	status := m.current.Status
	m.mu.Unlock()

	if terminal {
		m.log.Info("run finished", zap.String("run_id", runID), zap.String("status", string(status)))
	}
	m.emit()
	return terminal
}

// CancelExecution asks the remote side to stop runID. On success the active
// run is forced to cancelled and its subscription closed without waiting for
// a stream event. Cancelling an already finished run is a successful no-op.
func (m *Monitor) CancelExecution(ctx context.Context, runID string) error {
	m.mu.Lock()
	if m.current != nil && m.current.ID == runID && m.current.Status.Terminal() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.runs.CancelRun(ctx, runID); err != nil {
		m.log.Warn("cancel run failed", zap.String("run_id", runID), zap.Error(err))
		m.notifier.Notify(notify.Error("Failed to stop execution", err))
		return err
	}

	m.mu.Lock()
	var sub canvas.Subscription
	var canvasID string
	cancelled := false
	if m.current != nil && m.current.ID == runID {
		cancelled = m.current.Cancel(m.now())
		canvasID = m.current.CanvasID
		sub = m.stopLocked()
	}
	m.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
	m.notifier.Notify(notify.Success("Execution stopped"))
	if cancelled {
		m.emit()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.refresh(canvasID)
		}()
	}
	return nil
}

// LoadExecutionHistory replaces the in-memory run list with the runs of canvasID.
func (m *Monitor) LoadExecutionHistory(ctx context.Context, canvasID string) ([]canvas.Run, error) {
	runs, err := m.runs.ListRuns(ctx, canvas.RunFilter{CanvasID: canvasID})
	if err != nil {
		m.log.Warn("list runs failed", zap.String("canvas_id", canvasID), zap.Error(err))
		m.notifier.Notify(notify.Error("Failed to load execution history", err))
		return nil, err
	}
	m.mu.Lock()
	m.history = runs
	m.mu.Unlock()
	m.emit()
	return append([]canvas.Run(nil), runs...), nil
}

func (m *Monitor) refresh(canvasID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.refreshTimeout)
	defer cancel()
	_, _ = m.LoadExecutionHistory(ctx, canvasID)
}

// Current returns the active or most recent run.
func (m *Monitor) Current() (canvas.Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return canvas.Run{}, false
	}
	return *m.current, true
}

// Logs returns the log entries of the current run in arrival order.
func (m *Monitor) Logs() []canvas.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]canvas.LogEntry(nil), m.logs...)
}

// History returns the last loaded run list.
func (m *Monitor) History() []canvas.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]canvas.Run(nil), m.history...)
}

// IsExecuting reports whether the current run has not reached a terminal status.
func (m *Monitor) IsExecuting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.current.Status.Terminal()
}

// OnChange registers fn to be called after every state change.
func (m *Monitor) OnChange(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Monitor) emit() {
	m.mu.Lock()
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (m *Monitor) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close drops the live subscription and waits for background work to finish.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	sub := m.stopLocked()
	m.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
	m.wg.Wait()
}
