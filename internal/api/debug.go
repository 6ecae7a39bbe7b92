package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tidefall/reflex/internal/engine"
	"github.com/tidefall/reflex/internal/trace"
)

// QueryTrace returns retained trace entries, oldest first. Filters:
// correlationId, ruleId, types (comma-separated), limit.
func (s *Server) QueryTrace(c echo.Context) error {
	q := trace.Query{
		CorrelationID: c.QueryParam("correlationId"),
		RuleID:        c.QueryParam("ruleId"),
	}
	if types := c.QueryParam("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			q.Types = append(q.Types, trace.EntryType(strings.TrimSpace(t)))
		}
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "limit must be a non-negative integer"})
		}
		q.Limit = n
	}

	entries := s.eng.Trace().Query(q)
	return c.JSON(http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"enabled": s.eng.Trace().IsEnabled(),
	})
}

// StreamTrace streams trace entries as server-sent events. Filters are
// applied server-side; a slow client drops entries rather than blocking
// the pipeline.
func (s *Server) StreamTrace(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	wantCorr := c.QueryParam("correlationId")
	wantRule := c.QueryParam("ruleId")

	entries := make(chan trace.Entry, 256)
	unsub := s.eng.Trace().Subscribe(func(e trace.Entry) {
		select {
		case entries <- e:
		default: // slow client, drop
		}
	})
	defer unsub()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-entries:
			if wantCorr != "" && e.CorrelationID != wantCorr {
				continue
			}
			if wantRule != "" && e.RuleID != wantRule {
				continue
			}
			blob, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(res, "event: trace\ndata: %s\n\n", blob)
			res.Flush()
		}
	}
}

// EnableTrace turns trace recording on.
func (s *Server) EnableTrace(c echo.Context) error {
	s.eng.Trace().Enable()
	return c.NoContent(http.StatusNoContent)
}

// DisableTrace turns trace recording off. Retained entries stay
// queryable.
func (s *Server) DisableTrace(c echo.Context) error {
	s.eng.Trace().Disable()
	return c.NoContent(http.StatusNoContent)
}

// SaveSnapshot persists facts and rules through the configured storage
// adapter. 503 without one.
func (s *Server) SaveSnapshot(c echo.Context) error {
	if s.opts.Storage == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "storage is not configured"})
	}
	key := c.QueryParam("key")
	if key == "" {
		key = engine.SnapshotKey
	}
	if err := s.eng.SaveSnapshot(c.Request().Context(), s.opts.Storage, key, s.opts.ServerID); err != nil {
		return s.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RestoreSnapshot loads facts and rules from the configured storage
// adapter. 404 when no snapshot exists under the key.
func (s *Server) RestoreSnapshot(c echo.Context) error {
	if s.opts.Storage == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "storage is not configured"})
	}
	key := c.QueryParam("key")
	if key == "" {
		key = engine.SnapshotKey
	}
	found, err := s.eng.LoadSnapshot(c.Request().Context(), s.opts.Storage, key)
	if err != nil {
		return s.httpError(c, err)
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "no snapshot found"})
	}
	return c.NoContent(http.StatusNoContent)
}
