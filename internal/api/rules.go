package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tidefall/reflex/internal/loader"
	"github.com/tidefall/reflex/internal/registry"
)

// ListRules returns rules matching the group/tag/enabled query filters,
// in priority order.
func (s *Server) ListRules(c echo.Context) error {
	filter := registry.Filter{
		Group: c.QueryParam("group"),
		Tag:   c.QueryParam("tag"),
	}
	if enabled := c.QueryParam("enabled"); enabled != "" {
		v := enabled == "true"
		filter.Enabled = &v
	}
	out := s.eng.ListRules(filter)
	return c.JSON(http.StatusOK, map[string]any{
		"rules": out,
		"count": len(out),
	})
}

// CreateRule registers one rule from the JSON body. Duplicate id is a
// conflict; use PUT to replace.
func (s *Server) CreateRule(c echo.Context) error {
	return s.registerRule(c, "", registry.Options{})
}

// ReplaceRule registers or replaces the rule at the path id. The body's
// id must match.
func (s *Server) ReplaceRule(c echo.Context) error {
	return s.registerRule(c, c.Param("id"), registry.Options{Replace: true})
}

func (s *Server) registerRule(c echo.Context, wantID string, opts registry.Options) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "cannot read request body"})
	}
	doc, err := loader.Parse(body, loader.FormatJSON)
	if err != nil {
		return s.httpError(c, err)
	}
	if len(doc.Rules) != 1 {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "body must contain exactly one rule"})
	}
	in := doc.Rules[0]
	if wantID != "" && in.ID != wantID {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "rule id does not match path"})
	}

	stored, err := s.eng.RegisterRule(in, opts)
	if err != nil {
		return s.httpError(c, err)
	}
	status := http.StatusCreated
	if opts.Replace && stored.Version > 1 {
		status = http.StatusOK
	}
	return c.JSON(status, stored)
}

// GetRule returns one rule snapshot.
func (s *Server) GetRule(c echo.Context) error {
	r, err := s.eng.GetRule(c.Param("id"))
	if err != nil {
		return s.httpError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// DeleteRule unregisters a rule.
func (s *Server) DeleteRule(c echo.Context) error {
	if !s.eng.UnregisterRule(c.Param("id")) {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "rule not found"})
	}
	return c.NoContent(http.StatusNoContent)
}

// EnableRule marks a rule enabled.
func (s *Server) EnableRule(c echo.Context) error {
	if err := s.eng.EnableRule(c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// DisableRule marks a rule disabled.
func (s *Server) DisableRule(c echo.Context) error {
	if err := s.eng.DisableRule(c.Param("id")); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// EnableGroup clears a group-level disable.
func (s *Server) EnableGroup(c echo.Context) error {
	s.eng.EnableGroup(c.Param("group"))
	return c.NoContent(http.StatusNoContent)
}

// DisableGroup suppresses every rule in a group.
func (s *Server) DisableGroup(c echo.Context) error {
	s.eng.DisableGroup(c.Param("group"))
	return c.NoContent(http.StatusNoContent)
}
