// Package stream subscribes to the live events of an execution run over a
// websocket at <base>/ws/execution_<run id>.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultBuffer           = 64

	closeGrace = time.Second
)

var _ canvas.Subscriber = (*Subscriber)(nil)

// ClientID is the websocket client id the server expects for runID.
func ClientID(runID string) string {
	return "execution_" + runID
}

type Option func(*Subscriber)

// WithToken sends token as a bearer credential in the handshake.
func WithToken(token string) Option {
	return func(s *Subscriber) {
		if token != "" {
			s.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHandshakeTimeout bounds the websocket dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.dialer.HandshakeTimeout = d
		}
	}
}

// WithBuffer sets how many decoded events may queue before the reader waits for the consumer.
func WithBuffer(n int) Option {
	return func(s *Subscriber) {
		if n >= 0 {
			s.buffer = n
		}
	}
}

// WithLogger sets the stream logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Subscriber) {
		if l != nil {
			s.log = l.Named("stream")
		}
	}
}

// Subscriber dials one websocket per run.
type Subscriber struct {
	base   string
	dialer *websocket.Dialer
	header http.Header
	buffer int
	log    *zap.Logger
}

// New returns a subscriber for the server at base. An http or https base is
// rewritten to ws or wss; any path on base is kept as a prefix.
func New(base string, opts ...Option) (*Subscriber, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("stream: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("stream: unsupported scheme %q", u.Scheme)
	}
	s := &Subscriber{
		base: strings.TrimRight(u.String(), "/"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
		},
		header: http.Header{},
		buffer: DefaultBuffer,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// URL is the websocket address for runID.
func (s *Subscriber) URL(runID string) string {
	return s.base + "/ws/" + url.PathEscape(ClientID(runID))
}

// Subscribe opens the event stream of runID. A failed dial returns a *canvas.StreamError.
func (s *Subscriber) Subscribe(ctx context.Context, runID string) (canvas.Subscription, error) {
	target := s.URL(runID)
	conn, resp, err := s.dialer.DialContext(ctx, target, s.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &canvas.StreamError{RunID: runID, Err: err}
	}
	s.log.Debug("subscribed", zap.String("run_id", runID), zap.String("url", target))

	sub := &subscription{
		runID:  runID,
		conn:   conn,
		events: make(chan canvas.Event, s.buffer),
		done:   make(chan struct{}),
		log:    s.log,
	}
	go sub.read()
	return sub, nil
}

type subscription struct {
	runID  string
	conn   *websocket.Conn
	events chan canvas.Event
	done   chan struct{}
	log    *zap.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *subscription) Events() <-chan canvas.Event {
	return s.events
}

// Err reports why the stream ended. It is nil while the stream is open, after
// a clean close from either side, and after Close.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) read() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		var ev canvas.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.log.Warn("skipping malformed message", zap.String("run_id", s.runID), zap.Error(err))
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *subscription) finish(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	s.mu.Lock()
	s.err = &canvas.StreamError{RunID: s.runID, Err: err}
	s.mu.Unlock()
	s.log.Warn("stream dropped", zap.String("run_id", s.runID), zap.Error(err))
}

// Close ends the subscription. It is safe to call more than once.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		_ = s.conn.Close()
	})
	return nil
}
