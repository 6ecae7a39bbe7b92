package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tidefall/reflex/internal/rule"
)

// ListTimers returns every pending timer, sorted by name.
func (s *Server) ListTimers(c echo.Context) error {
	out := s.eng.ListTimers()
	return c.JSON(http.StatusOK, map[string]any{
		"timers": out,
		"count":  len(out),
	})
}

// GetTimer returns one pending timer.
func (s *Server) GetTimer(c echo.Context) error {
	t, ok := s.eng.GetTimer(c.Param("name"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "timer not found"})
	}
	return c.JSON(http.StatusOK, t)
}

// PutTimer schedules or replaces the named timer. The path name wins
// over any name in the body.
func (s *Server) PutTimer(c echo.Context) error {
	var spec rule.TimerSpec
	if err := c.Bind(&spec); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}
	spec.Name = c.Param("name")

	t, err := s.eng.SetTimer(spec, c.QueryParam("correlationId"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// DeleteTimer cancels a pending timer.
func (s *Server) DeleteTimer(c echo.Context) error {
	if !s.eng.CancelTimer(c.Param("name")) {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "timer not found"})
	}
	return c.NoContent(http.StatusNoContent)
}
