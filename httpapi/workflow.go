package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/canvas"
	"go.uber.org/zap"
)

func (s *Server) execute(c fiber.Ctx) error {
	var req canvas.StartRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.CanvasData.Empty() {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": canvas.ErrEmptyGraph.Error()})
	}
	if err := req.CanvasData.Validate(); err != nil {
		return s.fail(c, err)
	}

	run := &canvas.Run{
		CanvasID:   req.CanvasID,
		WorkflowID: req.WorkflowID,
		Status:     canvas.StatusRunning,
		StartedAt:  s.now().UTC(),
	}
	if err := s.store.CreateRun(c.Context(), run); err != nil {
		return s.fail(c, err)
	}
	s.log.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("canvas_id", run.CanvasID),
		zap.Int("nodes", len(req.CanvasData.Nodes)))

	if s.dispatch != nil {
		if err := s.dispatch.Dispatch(c.Context(), *run, req.CanvasData); err != nil {
			msg := "dispatch failed: " + err.Error()
			s.runMu.Lock()
			ferr := s.fold(c, run, canvas.Event{Type: canvas.EventStatusUpdate, Status: canvas.StatusFailed, ErrorMessage: &msg})
			s.runMu.Unlock()
			if ferr != nil {
				s.log.Error("mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
			}
			return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": msg})
		}
	}
	return c.JSON(fiber.Map{"run_id": run.ID, "status": run.Status})
}

func (s *Server) runStatus(c fiber.Ctx) error {
	run, err := s.store.GetRun(c.Context(), c.Params("runID"))
	if err != nil {
		return s.fail(c, err)
	}
	if run == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}
	return c.JSON(run)
}

// cancel stops a run. Cancelling a finished run succeeds without change.
func (s *Server) cancel(c fiber.Ctx) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	run, err := s.store.GetRun(c.Context(), c.Params("runID"))
	if err != nil {
		return s.fail(c, err)
	}
	if run == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}
	if run.Cancel(s.now().UTC()) {
		if err := s.store.UpdateRun(c.Context(), run); err != nil {
			return s.fail(c, err)
		}
		s.hub.Publish(statusEvent(run, s.now().UTC()))
		s.hub.Finish(run.ID)
		s.log.Info("run cancelled", zap.String("run_id", run.ID))
	}
	return c.JSON(fiber.Map{"run_id": run.ID, "status": run.Status})
}

func (s *Server) listRuns(c fiber.Ctx) error {
	filter := canvas.RunFilter{
		CanvasID: c.Query("canvas_id"),
		Status:   canvas.RunStatus(c.Query("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return s.fail(c, canvas.NewValidationError("status", "unknown run status "+string(filter.Status)))
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return s.fail(c, canvas.NewValidationError("limit", "must be a non-negative integer"))
		}
		filter.Limit = n
	}
	runs, err := s.store.ListRuns(c.Context(), filter)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(runs)
}

// ingest accepts one event from the execution engine, folds it into the
// stored run and broadcasts it. Finished runs reject further events.
func (s *Server) ingest(c fiber.Ctx) error {
	var ev canvas.Event
	if err := c.Bind().JSON(&ev); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if err := ev.Validate(); err != nil {
		return s.fail(c, err)
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	run, err := s.store.GetRun(c.Context(), c.Params("runID"))
	if err != nil {
		return s.fail(c, err)
	}
	if run == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
	}
	if run.Status.Terminal() {
		return s.fail(c, canvas.ErrRunTerminal)
	}
	if err := s.fold(c, run, ev); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// fold applies ev to run, persists status changes and publishes ev.
func (s *Server) fold(c fiber.Ctx, run *canvas.Run, ev canvas.Event) error {
	now := s.now().UTC()
	ev.RunID = run.ID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	if ev.Type == canvas.EventStatusUpdate && run.Apply(ev, now) {
		if err := s.store.UpdateRun(c.Context(), run); err != nil {
			return err
		}
		// publish the folded run state
		ev = statusEvent(run, ev.Timestamp)
	}
	s.hub.Publish(ev)
	if run.Status.Terminal() {
		s.hub.Finish(run.ID)
		s.log.Info("run finished", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
	}
	return nil
}

func statusEvent(run *canvas.Run, at time.Time) canvas.Event {
	return canvas.Event{
		Type:          canvas.EventStatusUpdate,
		RunID:         run.ID,
		Timestamp:     at,
		Status:        run.Status,
		ExecutionTime: run.ExecutionTime,
		ErrorMessage:  run.ErrorMessage,
		OutputData:    run.OutputData,
	}
}
