// Package notify provides sinks for user-visible notifications.
package notify

import (
	"sync"

	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

// Discard drops every notification.
var Discard canvas.Notifier = canvas.NotifierFunc(func(canvas.Notification) {})

// Error builds an error notification.
func Error(msg string, err error) canvas.Notification {
	return canvas.Notification{Level: canvas.LevelError, Message: msg, Err: err}
}

// Success builds a success notification.
func Success(msg string) canvas.Notification {
	return canvas.Notification{Level: canvas.LevelSuccess, Message: msg}
}

// Info builds an informational notification.
func Info(msg string) canvas.Notification {
	return canvas.Notification{Level: canvas.LevelInfo, Message: msg}
}

// Log writes notifications to a zap logger.
type Log struct {
	log *zap.Logger
}

// NewLog returns a Notifier that writes to l.
func NewLog(l *zap.Logger) *Log {
	if l == nil {
		l = zap.NewNop()
	}
	return &Log{log: l.Named("notify")}
}

func (l *Log) Notify(n canvas.Notification) {
	fields := []zap.Field{zap.String("level", string(n.Level))}
	if n.Err != nil {
		fields = append(fields, zap.Error(n.Err))
	}
	if n.Level == canvas.LevelError {
		l.log.Warn(n.Message, fields...)
		return
	}
	l.log.Info(n.Message, fields...)
}

// Chan delivers notifications on a buffered channel, dropping them when the buffer is full.
type Chan struct {
	ch chan canvas.Notification
}

// NewChan returns a Notifier buffering up to size notifications.
func NewChan(size int) *Chan {
	return &Chan{ch: make(chan canvas.Notification, size)}
}

// Notify drops n when the buffer is full.
func (c *Chan) Notify(n canvas.Notification) {
	select {
	case c.ch <- n:
	default:
	}
}

// C returns the receive side of the channel.
func (c *Chan) C() <-chan canvas.Notification {
	return c.ch
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu  sync.Mutex
	all []canvas.Notification
}

func (r *Recorder) Notify(n canvas.Notification) {
	r.mu.Lock()
	r.all = append(r.all, n)
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []canvas.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]canvas.Notification(nil), r.all...)
}

// Count returns how many notifications of the given level were recorded.
func (r *Recorder) Count(level canvas.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.all {
		if v.Level == level {
			n++
		}
	}
	return n
}

// Multi fans a notification out to every sink.
func Multi(sinks ...canvas.Notifier) canvas.Notifier {
	return canvas.NotifierFunc(func(n canvas.Notification) {
		for _, s := range sinks {
			if s != nil {
				s.Notify(n)
			}
		}
	})
}
