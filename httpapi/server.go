// Package httpapi serves the canvas and workflow API over fiber, with a
// websocket stream of run events at /ws/execution_<run id>.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

// BasePath prefixes every REST route.
const BasePath = "/api/v1"

// Dispatcher hands a freshly created run to an execution engine. The engine
// reports progress back through POST /workflow/runs/:runID/events.
type Dispatcher interface {
	Dispatch(ctx context.Context, run canvas.Run, g canvas.Graph) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, run canvas.Run, g canvas.Graph) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, run canvas.Run, g canvas.Graph) error {
	return f(ctx, run, g)
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every route but /health.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l.Named("httpapi")
		}
	}
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDispatcher hands every started run to d.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Server) { s.dispatch = d }
}

// WithBodyLimit caps request bodies at n bytes.
func WithBodyLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// WithHubBuffer sets the per-subscriber event buffer.
func WithHubBuffer(n int) Option {
	return func(s *Server) { s.hubBuffer = n }
}

// Server is the canvas API.
type Server struct {
	store     canvas.Store
	hub       *Hub
	app       *fiber.App
	log       *zap.Logger
	now       func() time.Time
	token     string
	dispatch  Dispatcher
	bodyLimit int
	hubBuffer int

	// serializes read-modify-write of runs
	runMu sync.Mutex
}

// New builds the server and registers its routes.
func New(store canvas.Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		log:       zap.NewNop(),
		now:       time.Now,
		bodyLimit: fiber.DefaultBodyLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.hubBuffer, s.log)

	s.app = fiber.New(fiber.Config{
		AppName:      "canvasd",
		BodyLimit:    s.bodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: s.errorHandler,
	})
	s.routes()
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the run event fan-out.
func (s *Server) Hub() *Hub { return s.hub }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown closes live streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Use(s.requestLog)
	s.app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group(BasePath, s.auth)

	// ── Canvases ──────────────────────────────────────────────────────
	api.Post("/canvas", s.createCanvas)
	api.Get("/canvas/project/:projectID", s.listCanvases)
	api.Get("/canvas/:id", s.getCanvas)
	api.Delete("/canvas/:id", s.deleteCanvas)
	api.Post("/canvas/:id/save", s.saveCanvas)

	// ── Workflow ─────────────────────────────────────────────────────
	api.Post("/workflow/execute", s.execute)
	api.Get("/workflow/status/:runID", s.runStatus)
	api.Post("/workflow/cancel/:runID", s.cancel)
	api.Get("/workflow/runs", s.listRuns)
	api.Post("/workflow/runs/:runID/events", s.ingest)

	// ── Stream ───────────────────────────────────────────────────────
	s.app.Get("/ws/:clientID", s.auth, s.stream)
}

// ── Middleware ───────────────────────────────────────────────────────

func (s *Server) auth(c fiber.Ctx) error {
	if s.token == "" {
		return c.Next()
	}
	got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
	if !ok || got != s.token {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	return c.Next()
}

func (s *Server) requestLog(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug("request",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Response().StatusCode()),
		zap.Duration("took", time.Since(start)))
	return err
}

func (s *Server) errorHandler(c fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// fail maps a store or validation error onto a status code.
func (s *Server) fail(c fiber.Ctx, err error) error {
	switch {
	case canvas.IsValidation(err):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case canvas.IsNotFound(err):
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, canvas.ErrRunTerminal):
		return c.Status(http.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	s.log.Error("store error", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}
