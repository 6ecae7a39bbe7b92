package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListFacts returns facts matching the pattern query parameter
// (default: everything), sorted by key.
func (s *Server) ListFacts(c echo.Context) error {
	pattern := c.QueryParam("pattern")
	if pattern == "" {
		pattern = "**"
	}
	out := s.eng.QueryFacts(pattern)
	return c.JSON(http.StatusOK, map[string]any{
		"facts": out,
		"count": len(out),
	})
}

// GetFact returns one fact by literal key.
func (s *Server) GetFact(c echo.Context) error {
	f, ok := s.eng.GetFact(c.Param("key"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "fact not found"})
	}
	return c.JSON(http.StatusOK, f)
}

type putFactRequest struct {
	Value any `json:"value"`
}

// PutFact writes a fact. Fact-triggered rules run asynchronously.
func (s *Server) PutFact(c echo.Context) error {
	var req putFactRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}
	f, err := s.eng.SetFact(c.Param("key"), req.Value)
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// DeleteFact removes a fact.
func (s *Server) DeleteFact(c echo.Context) error {
	if !s.eng.DeleteFact(c.Param("key")) {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "fact not found"})
	}
	return c.NoContent(http.StatusNoContent)
}
