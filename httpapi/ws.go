package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/canvas"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	clientIDPrefix = "execution_"

	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
}

// stream upgrades /ws/execution_<run id> and relays the run's hub events.
// A finished run gets its final status and a normal close.
func (s *Server) stream(c fiber.Ctx) error {
	runID, ok := strings.CutPrefix(c.Params("clientID"), clientIDPrefix)
	if !ok || runID == "" {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "unknown client id"})
	}
	if !websocket.FastHTTPIsWebSocketUpgrade(c.RequestCtx()) {
		return c.Status(http.StatusUpgradeRequired).JSON(fiber.Map{"error": "websocket upgrade required"})
	}
	run, err := s.store.GetRun(c.Context(), runID)
	if err != nil {
		return s.fail(c, err)
	}
	if run == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}

	log := s.log.With(zap.String("run_id", runID))
	err = upgrader.Upgrade(c.RequestCtx(), func(conn *websocket.Conn) {
		defer conn.Close()
		s.relay(conn, runID, log)
	})
	if err != nil {
		log.Warn("websocket upgrade failed", zap.Error(err))
	}
	return nil
}

func (s *Server) relay(conn *websocket.Conn, runID string, log *zap.Logger) {
	events, cancel := s.hub.Subscribe(runID)
	defer cancel()

	// subscribe first; the run may finish before the re-read
	run, err := s.store.GetRun(context.Background(), runID)
	if err != nil || run == nil {
		log.Warn("run vanished before streaming", zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "run unavailable")
		return
	}
	if run.Status.Terminal() {
		if err := writeEvent(conn, statusEvent(run, s.now().UTC())); err != nil {
			log.Debug("write final status", zap.Error(err))
		}
		closeWith(conn, websocket.CloseNormalClosure, "")
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	log.Debug("stream opened")
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				closeWith(conn, websocket.CloseNormalClosure, "")
				log.Debug("stream finished")
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				log.Debug("write event", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			log.Debug("client went away")
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev canvas.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
