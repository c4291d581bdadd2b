package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/taskpipe/internal/db"
	"github.com/jonathan/taskpipe/internal/pipeline"
)

// parseQueryInt parses an integer query parameter with default and max values
func parseQueryInt(r *http.Request, key string, defaultValue, maxValue int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val < 0 {
		return defaultValue
	}
	if maxValue > 0 && val > maxValue {
		return maxValue
	}
	return val
}

// handleStartRun triggers one pipeline run and blocks until it finishes.
// A run that failed in its worker still comes back as 200: the failure is
// recorded on the run record and reported in the body.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	report, err := s.runner.Execute(r.Context(), &req)
	if err != nil {
		if conflict, ok := err.(*pipeline.ConflictError); ok {
			body := map[string]any{
				"ok":    false,
				"error": conflict.Error(),
			}
			if conflict.RunningID != uuid.Nil {
				body["running_id"] = conflict.RunningID
			}
			s.jsonResponse(w, http.StatusConflict, body)
			return
		}
		status := HTTPStatus(err)
		if persistErr, ok := err.(*pipeline.PersistenceError); ok && persistErr.RunID != uuid.Nil {
			s.jsonResponse(w, status, map[string]any{
				"ok":     false,
				"run_id": persistErr.RunID,
				"error":  persistErr.Error(),
			})
			return
		}
		s.errorResponse(w, status, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":             true,
		"run_id":         report.RunID,
		"status":         report.Status,
		"duration_ms":    report.DurationMs,
		"rows_processed": report.RowsProcessed,
		"error_message":  report.ErrorMessage,
		"meta":           report.Meta,
	})
}

// handleListRuns lists run history, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filters := db.RunFilters{
		Pipeline: r.URL.Query().Get("pipeline"),
		Mode:     r.URL.Query().Get("mode"),
		Status:   r.URL.Query().Get("status"),
		Limit:    parseQueryInt(r, "limit", 50, 200),
		Offset:   parseQueryInt(r, "offset", 0, 0),
	}

	runs, total, err := s.store.ListRuns(r.Context(), filters)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":   true,
		"data": runs,
		"pagination": map[string]any{
			"total":  total,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		},
	})
}

// handleGetRun retrieves a single run by ID
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "Run not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "data": run})
}
