package httpapi

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/canvas"
	"github.com/meikuraledutech/canvas/exchange"
)

type createCanvasRequest struct {
	ProjectID   string       `json:"project_id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	CanvasData  canvas.Graph `json:"canvas_data"`
}

func (s *Server) createCanvas(c fiber.Ctx) error {
	var req createCanvasRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if req.ProjectID == "" {
		return s.fail(c, canvas.NewValidationError("project_id", "required"))
	}
	if req.Name == "" {
		req.Name = exchange.DefaultName
	}
	g, err := req.CanvasData.NormalizeConfigs()
	if err != nil {
		return s.fail(c, err)
	}
	doc, err := s.store.CreateCanvas(c.Context(), &canvas.Document{
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		Description: req.Description,
		CanvasData:  *g,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(http.StatusCreated).JSON(doc)
}

func (s *Server) listCanvases(c fiber.Ctx) error {
	docs, err := s.store.ListCanvases(c.Context(), c.Params("projectID"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(docs)
}

func (s *Server) getCanvas(c fiber.Ctx) error {
	doc, err := s.store.GetCanvas(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if doc == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "canvas not found"})
	}
	return c.JSON(doc)
}

func (s *Server) deleteCanvas(c fiber.Ctx) error {
	if err := s.store.DeleteCanvas(c.Context(), c.Params("id")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) saveCanvas(c fiber.Ctx) error {
	var g canvas.Graph
	if err := c.Bind().JSON(&g); err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	normalized, err := g.NormalizeConfigs()
	if err != nil {
		return s.fail(c, err)
	}
	version, err := s.store.SaveCanvas(c.Context(), c.Params("id"), normalized)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"version": version})
}
