// Package autosave persists the live graph without flooding the remote store.
//
// ScheduleSave is a trailing-edge debounce: only the last graph of a burst is
// sent. Consistency is last-writer-wins; a failed save is reported and the
// next edit naturally retries with the latest state.
package autosave

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/graphstore"
	"github.com/meikuraledutech/canvas/notify"
	"go.uber.org/zap"
)

const (
	DefaultDelay   = time.Second
	DefaultTimeout = 30 * time.Second
)

// Saver is the part of the remote API the synchronizer writes through.
type Saver interface {
	SaveGraph(ctx context.Context, id string, g *canvas.Graph) error
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithDelay sets the debounce quantum.
func WithDelay(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.delay = d
		}
	}
}

// WithTimeout bounds each save request fired by the debounce timer.
func WithTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNotifier sets where failed saves are reported.
func WithNotifier(n canvas.Notifier) Option {
	return func(s *Synchronizer) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the synchronizer's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.log = l.Named("autosave")
		}
	}
}

// Synchronizer debounces graph changes into save requests for one canvas.
type Synchronizer struct {
	saver    Saver
	canvasID string
	delay    time.Duration
	timeout  time.Duration
	notifier canvas.Notifier
	log      *zap.Logger

	deb *Debouncer

	mu     sync.Mutex
	latest *canvas.Graph
	closed bool

	// saveMu keeps requests in issue order so an older graph never lands last.
	saveMu   sync.Mutex
	inflight atomic.Int32
	saves    atomic.Int64
}

// New returns a synchronizer writing canvasID through saver.
func New(saver Saver, canvasID string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		saver:    saver,
		canvasID: canvasID,
		delay:    DefaultDelay,
		timeout:  DefaultTimeout,
		notifier: notify.Discard,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deb = NewDebouncer(s.delay)
	return s
}

// CanvasID is the canvas this synchronizer writes to.
func (s *Synchronizer) CanvasID() string {
	return s.canvasID
}

// ScheduleSave arms or re-arms the debounce timer with g as the graph to send.
func (s *Synchronizer) ScheduleSave(g *canvas.Graph) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.latest = g
	s.mu.Unlock()
	s.deb.Schedule(s.fire)
}

func (s *Synchronizer) fire() {
	g := s.take()
	if g == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_ = s.save(ctx, g)
}

func (s *Synchronizer) take() *canvas.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.latest
	s.latest = nil
	return g
}

// SaveNow sends g immediately, bypassing the debounce. A pending scheduled
// save is left armed.
func (s *Synchronizer) SaveNow(ctx context.Context, g *canvas.Graph) error {
	return s.save(ctx, g)
}

// Flush sends a pending scheduled save now. It returns nil when nothing was pending.
func (s *Synchronizer) Flush(ctx context.Context) error {
	if !s.deb.Stop() {
		return nil
	}
	g := s.take()
	if g == nil {
		return nil
	}
	return s.save(ctx, g)
}

func (s *Synchronizer) save(ctx context.Context, g *canvas.Graph) error {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	start := time.Now()
	err := s.saver.SaveGraph(ctx, s.canvasID, g)
	s.saves.Add(1)
	if err != nil {
		s.log.Warn("save failed",
			zap.String("canvas_id", s.canvasID),
			zap.Int("nodes", len(g.Nodes)),
			zap.Error(err))
		s.notifier.Notify(notify.Error("Failed to save canvas", err))
		return err
	}
	s.log.Debug("saved",
		zap.String("canvas_id", s.canvasID),
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("edges", len(g.Edges)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// IsSaving reports whether a save request is in flight or waiting to be issued.
func (s *Synchronizer) IsSaving() bool {
	return s.inflight.Load() > 0
}

// Pending reports whether a debounced save is armed.
func (s *Synchronizer) Pending() bool {
	return s.deb.Pending()
}

// Saves is the number of save requests issued so far.
func (s *Synchronizer) Saves() int64 {
	return s.saves.Load()
}

// Close cancels a pending save and ignores further ScheduleSave calls.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	s.latest = nil
	s.mu.Unlock()
	s.deb.Stop()
}

// Watch schedules a save for every graph published by store. The returned
// function detaches it.
func Watch(store *graphstore.Store, s *Synchronizer) (cancel func()) {
	return store.Subscribe(func(g *canvas.Graph) {
		s.ScheduleSave(g)
	})
}
