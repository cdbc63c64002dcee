// Package session wires the graph store, history, autosave and execution
// monitor into one editing session over a remote canvas API.
package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/autosave"
	"github.com/meikuraledutech/canvas/exchange"
	"github.com/meikuraledutech/canvas/graphstore"
	"github.com/meikuraledutech/canvas/history"
	"github.com/meikuraledutech/canvas/monitor"
	"github.com/meikuraledutech/canvas/notify"
	"go.uber.org/zap"
)

// Services is the remote API a session needs.
type Services interface {
	canvas.GraphService
	canvas.RunService
}

// Config holds the tunables of a session. Zero fields take the defaults.
type Config struct {
	SaveDelay    time.Duration `mapstructure:"save_delay"`
	SaveTimeout  time.Duration `mapstructure:"save_timeout"`
	HistoryLimit int           `mapstructure:"history_limit"`
	// ReadOnly disables autosave and explicit saves.
	ReadOnly bool `mapstructure:"read_only"`
}

var defaultConfig = Config{
	SaveDelay:    autosave.DefaultDelay,
	SaveTimeout:  autosave.DefaultTimeout,
	HistoryLimit: history.DefaultLimit,
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() Config { return defaultConfig }

// ErrReadOnly is returned by writes on a read-only session.
var ErrReadOnly = &canvas.ValidationError{Field: "session", Reason: "session is read-only"}

var errNoCanvas = canvas.NewValidationError("canvas", "no canvas is loaded")

type Option func(*Session)

// WithConfig sets the session config. Zero fields take DefaultConfig values.
func WithConfig(cfg Config) Option {
	return func(s *Session) { s.cfg = cfg }
}

// WithNotifier sets where user-visible notifications go.
func WithNotifier(n canvas.Notifier) Option {
	return func(s *Session) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger shared by every module of the session.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now for exports and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session is one user's editing session of one canvas at a time.
type Session struct {
	services Services
	cfg      Config
	notifier canvas.Notifier
	log      *zap.Logger
	now      func() time.Time

	store   *graphstore.Store
	history *history.Manager
	monitor *monitor.Monitor

	mu      sync.Mutex
	saver   *autosave.Synchronizer
	unwatch func()

	loading atomic.Int32
}

// New builds a session over services, following runs through subscriber.
func New(services Services, subscriber canvas.Subscriber, opts ...Option) (*Session, error) {
	s := &Session{
		services: services,
		notifier: notify.Discard,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := mergo.Merge(&s.cfg, defaultConfig); err != nil {
		return nil, err
	}

	s.store = graphstore.New(graphstore.WithLogger(s.log))
	s.history = history.New(s.store, history.WithLimit(s.cfg.HistoryLimit))
	s.monitor = monitor.New(services, subscriber,
		monitor.WithNotifier(s.notifier),
		monitor.WithLogger(s.log),
		monitor.WithClock(s.now))
	return s, nil
}

// Config returns the merged session config.
func (s *Session) Config() Config { return s.cfg }

// Store returns the live graph store.
func (s *Session) Store() *graphstore.Store { return s.store }

// History returns the undo history.
func (s *Session) History() *history.Manager { return s.history }

// Monitor returns the execution monitor.
func (s *Session) Monitor() *monitor.Monitor { return s.monitor }

// Graph is the live graph of the edited canvas.
func (s *Session) Graph() *canvas.Graph { return s.store.Graph() }

// Document is the loaded canvas with the live graph as its data.
func (s *Session) Document() (canvas.Document, bool) { return s.store.Document() }

// IsLoading reports whether a Load or Create is in progress.
func (s *Session) IsLoading() bool {
	return s.loading.Load() > 0
}

// IsSaving reports whether a save request is in flight.
func (s *Session) IsSaving() bool {
	s.mu.Lock()
	saver := s.saver
	s.mu.Unlock()
	return saver != nil && saver.IsSaving()
}

// Load fetches canvas id and makes it the edited canvas. Selection is
// cleared and history restarts from the loaded graph.
func (s *Session) Load(ctx context.Context, id string) error {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	doc, err := s.services.GetGraph(ctx, id)
	if err != nil {
		s.log.Warn("load canvas failed", zap.String("canvas_id", id), zap.Error(err))
		s.notifier.Notify(notify.Error("Failed to load canvas", err))
		return err
	}
	if doc == nil {
		s.log.Warn("load canvas failed", zap.String("canvas_id", id), zap.Error(canvas.ErrNotFound))
		s.notifier.Notify(notify.Error("Failed to load canvas", canvas.ErrNotFound))
		return canvas.ErrNotFound
	}
	s.open(ctx, doc)
	return nil
}

// Create makes a new empty canvas under projectID and opens it.
func (s *Session) Create(ctx context.Context, projectID, name, description string) (canvas.Document, error) {
	s.loading.Add(1)
	defer s.loading.Add(-1)

	doc, err := s.services.CreateGraph(ctx, projectID, name, description)
	if err != nil {
		s.log.Warn("create canvas failed", zap.String("project_id", projectID), zap.Error(err))
		s.notifier.Notify(notify.Error("Failed to create canvas", err))
		return canvas.Document{}, err
	}
	s.open(ctx, doc)
	s.notifier.Notify(notify.Success("Canvas created"))
	out, _ := s.store.Document()
	return out, nil
}

// open swaps the edited canvas for doc. The previous canvas's pending save is
// flushed before the new graph is applied.
func (s *Session) open(ctx context.Context, doc *canvas.Document) {
	s.detach(ctx)

	s.store.SetDocument(doc)
	s.store.SetGraph(doc.CanvasData.Nodes, doc.CanvasData.Edges)
	s.store.ClearSelection()
	s.history.Reset()
	s.history.Snapshot()

	if !s.cfg.ReadOnly {
		saver := autosave.New(s.services, doc.ID,
			autosave.WithDelay(s.cfg.SaveDelay),
			autosave.WithTimeout(s.cfg.SaveTimeout),
			autosave.WithNotifier(s.notifier),
			autosave.WithLogger(s.log))
		s.mu.Lock()
		s.saver = saver
		s.unwatch = autosave.Watch(s.store, saver)
		s.mu.Unlock()
	}
	s.log.Info("canvas opened",
		zap.String("canvas_id", doc.ID),
		zap.Int("nodes", len(doc.CanvasData.Nodes)),
		zap.Int("edges", len(doc.CanvasData.Edges)))
}

func (s *Session) detach(ctx context.Context) {
	s.mu.Lock()
	saver, unwatch := s.saver, s.unwatch
	s.saver, s.unwatch = nil, nil
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if saver != nil {
		_ = saver.Flush(ctx)
		saver.Close()
	}
}

// Save writes the current graph immediately.
func (s *Session) Save(ctx context.Context) error {
	if s.cfg.ReadOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	saver := s.saver
	s.mu.Unlock()
	if saver == nil {
		return errNoCanvas
	}
	if err := saver.SaveNow(ctx, s.store.Graph()); err != nil {
		return err
	}
	s.notifier.Notify(notify.Success("Canvas saved"))
	return nil
}

// Checkpoint records the current graph as an undo point.
func (s *Session) Checkpoint() {
	s.history.Snapshot()
}

// Undo restores the previous snapshot.
func (s *Session) Undo() bool { return s.history.Undo() }

// Redo re-applies the snapshot Undo stepped back from.
func (s *Session) Redo() bool { return s.history.Redo() }

// Export writes the current graph as a canvas file.
func (s *Session) Export(w io.Writer) error {
	doc, _ := s.store.Document()
	if err := exchange.Export(w, doc.Name, s.store.Graph(), s.now()); err != nil {
		s.notifier.Notify(notify.Error("Export failed", err))
		return err
	}
	s.notifier.Notify(notify.Success("Canvas exported"))
	return nil
}

// Import replaces the graph with the contents of a canvas file. The import
// is a checkpoint, so it can be undone.
func (s *Session) Import(r io.Reader) (*exchange.File, error) {
	f, err := exchange.Import(r)
	if err != nil {
		s.notifier.Notify(notify.Error("Import failed", err))
		return nil, err
	}
	if s.history.Len() == 0 {
		s.history.Snapshot()
	}
	g := f.Canvas.WithoutSelection()
	s.store.SetGraph(g.Nodes, g.Edges)
	s.history.Snapshot()
	s.notifier.Notify(notify.Success("Canvas imported"))
	return f, nil
}

// Run starts executing the current graph of the loaded canvas.
func (s *Session) Run(ctx context.Context) (canvas.Run, error) {
	doc, ok := s.store.Document()
	if !ok {
		return canvas.Run{}, errNoCanvas
	}
	return s.monitor.StartExecution(ctx, doc.ID, s.store.Graph())
}

// Cancel stops the current run. It is a no-op when nothing is executing.
func (s *Session) Cancel(ctx context.Context) error {
	run, ok := s.monitor.Current()
	if !ok || run.Status.Terminal() {
		return nil
	}
	return s.monitor.CancelExecution(ctx, run.ID)
}

// Close flushes a pending save and stops following runs.
func (s *Session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SaveTimeout)
	defer cancel()
	s.detach(ctx)
	s.monitor.Close()
}
