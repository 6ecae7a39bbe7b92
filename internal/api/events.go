package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type emitRequest struct {
	Topic         string         `json:"topic"`
	Data          map[string]any `json:"data"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlationId"`
}

// PostEvent ingests one event. The body is the emit request; the
// response is the stored envelope with assigned id and correlation.
func (s *Server) PostEvent(c echo.Context) error {
	var req emitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}
	if req.Topic == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "topic is required"})
	}

	ev, err := s.eng.EmitEvent(req.Topic, req.Data, req.Source, req.CorrelationID)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, ev)
}

// GetEvent returns a retained event by id.
func (s *Server) GetEvent(c echo.Context) error {
	ev, ok := s.eng.EventByID(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "event not found"})
	}
	return c.JSON(http.StatusOK, ev)
}

// GetCorrelation returns every retained event of a correlation, in
// store order.
func (s *Server) GetCorrelation(c echo.Context) error {
	evs := s.eng.EventsByCorrelation(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]any{
		"events": evs,
		"count":  len(evs),
	})
}
