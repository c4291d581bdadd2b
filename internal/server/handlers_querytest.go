package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// handleQueryTestGet probes analytics-service connectivity with a default
// query (or a caller-supplied one via ?query=)
func (s *Server) handleQueryTestGet(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		limit := parseQueryInt(r, "limit", 10, 100)
		query = fmt.Sprintf("SELECT * FROM auditlog ORDER BY id DESC LIMIT %d", limit)
	}
	s.runTestQuery(w, r, query)
}

// handleQueryTestPost runs an arbitrary SELECT statement from the body
func (s *Server) handleQueryTestPost(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == "" {
		s.errorResponse(w, http.StatusBadRequest, "query is required in request body")
		return
	}

	upper := strings.ToUpper(strings.TrimSpace(body.Query))
	for _, forbidden := range []string{"DROP", "DELETE", "TRUNCATE", "ALTER", "UPDATE", "INSERT"} {
		if strings.HasPrefix(upper, forbidden) {
			s.errorResponse(w, http.StatusForbidden, "Only SELECT queries are allowed")
			return
		}
	}

	s.runTestQuery(w, r, body.Query)
}

func (s *Server) runTestQuery(w http.ResponseWriter, r *http.Request, query string) {
	start := time.Now()
	result, err := s.executor.ExecuteQuery(r.Context(), query)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		s.jsonResponse(w, http.StatusInternalServerError, map[string]any{
			"ok":          false,
			"error":       err.Error(),
			"duration_ms": durationMs,
		})
		return
	}

	columns := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		columns[i] = c.Name
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":              true,
		"rows_count":      len(result.Rows),
		"columns":         columns,
		"rows":            result.Rows,
		"redash_runtime":  result.Runtime,
		"api_duration_ms": durationMs,
	})
}
