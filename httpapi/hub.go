package httpapi

import (
	"sync"

	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

// DefaultHubBuffer is the per-subscriber queue length.
const DefaultHubBuffer = 64

// Hub fans run events out to websocket subscribers.
// Publish never blocks; a subscriber whose queue is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*hubSub]struct{}
	buffer int
	closed bool
	log    *zap.Logger
}

type hubSub struct {
	ch   chan canvas.Event
	once sync.Once
}

func (s *hubSub) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewHub returns a Hub whose subscribers each buffer up to buffer events.
func NewHub(buffer int, log *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[*hubSub]struct{}),
		buffer: buffer,
		log:    log.Named("hub"),
	}
}

// Subscribe registers for the events of runID. The channel is closed by
// Finish, Close or the returned cancel func.
func (h *Hub) Subscribe(runID string) (<-chan canvas.Event, func()) {
	sub := &hubSub{ch: make(chan canvas.Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.close()
		return sub.ch, func() {}
	}
	set, ok := h.subs[runID]
	if !ok {
		set = make(map[*hubSub]struct{})
		h.subs[runID] = set
	}
	set[sub] = struct{}{}

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[runID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, runID)
			}
		}
		sub.close()
	}
}

// Publish delivers ev to every subscriber of ev.RunID.
func (h *Hub) Publish(ev canvas.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.RunID] {
		select {
		case sub.ch <- ev:
		default:
			h.log.Warn("subscriber queue full, dropping event",
				zap.String("run_id", ev.RunID), zap.String("type", string(ev.Type)))
		}
	}
}

// Finish closes every subscription of runID.
func (h *Hub) Finish(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[runID] {
		sub.close()
	}
	delete(h.subs, runID)
}

// Subscribers reports how many subscriptions runID has.
func (h *Hub) Subscribers(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}

// Close ends all subscriptions and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for runID, set := range h.subs {
		for sub := range set {
			sub.close()
		}
		delete(h.subs, runID)
	}
}
