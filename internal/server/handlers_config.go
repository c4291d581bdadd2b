package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonathan/taskpipe/internal/db"
	"github.com/jonathan/taskpipe/internal/pipeline"
)

// handleGetConfig lists cron configuration rows, optionally filtered by
// pipeline and mode
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListPipelineConfigs(r.Context(), r.URL.Query().Get("pipeline"), r.URL.Query().Get("mode"))
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "data": configs})
}

type patchConfigRequest struct {
	Pipeline     string  `json:"pipeline"`
	Mode         string  `json:"mode"`
	CronEnabled  *bool   `json:"cron_enabled"`
	CronSchedule *string `json:"cron_schedule"`
}

// handlePatchConfig toggles cron or changes the schedule for one
// pipeline/mode pair
func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	var req patchConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.Pipeline == "" || req.Mode == "" {
		s.errorResponse(w, http.StatusBadRequest, "pipeline and mode are required")
		return
	}
	p, m := pipeline.Pipeline(req.Pipeline), pipeline.Mode(req.Mode)
	if !pipeline.ValidPipeline(p) {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unknown pipeline %q", req.Pipeline))
		return
	}
	if !pipeline.ValidModeFor(p, m) {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid mode %q for pipeline %q", req.Mode, req.Pipeline))
		return
	}

	patch := db.PipelineConfigPatch{CronEnabled: req.CronEnabled}
	if req.CronSchedule != nil {
		schedule := strings.TrimSpace(*req.CronSchedule)
		if schedule != "" {
			patch.CronSchedule = &schedule
		}
	}
	if patch.CronEnabled == nil && patch.CronSchedule == nil {
		s.errorResponse(w, http.StatusBadRequest, "Nothing to update. Provide cron_enabled or cron_schedule")
		return
	}

	config, err := s.store.UpdatePipelineConfig(r.Context(), req.Pipeline, req.Mode, patch)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if config == nil {
		s.errorResponse(w, http.StatusNotFound,
			fmt.Sprintf("Config not found for pipeline=%q, mode=%q", req.Pipeline, req.Mode))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "data": config})
}

// handleStats returns per-mode dashboard statistics, grouped by pipeline
// unless a pipeline filter is given
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	pipelineFilter := r.URL.Query().Get("pipeline")

	stats, err := s.store.GetModeStats(r.Context(), pipelineFilter)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	if pipelineFilter != "" {
		s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "data": stats})
		return
	}

	grouped := make(map[string][]db.ModeStats)
	for _, stat := range stats {
		grouped[stat.Pipeline] = append(grouped[stat.Pipeline], stat)
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"ok": true, "data": grouped})
}
