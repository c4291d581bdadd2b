// Package server provides the HTTP API for pipeline orchestration.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/taskpipe/internal/db"
	"github.com/jonathan/taskpipe/internal/ingest"
	"github.com/jonathan/taskpipe/internal/pipeline"
	"github.com/jonathan/taskpipe/internal/redash"
)

// runExecutor drives one pipeline run end to end. *pipeline.Runner
// satisfies it.
type runExecutor interface {
	Execute(ctx context.Context, req *pipeline.RunRequest) (*pipeline.RunReport, error)
}

// store is the slice of the durable store the handlers read and patch.
// *db.DB satisfies it.
type store interface {
	ListRuns(ctx context.Context, filters db.RunFilters) ([]db.PipelineRun, int, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*db.PipelineRun, error)
	ListPipelineConfigs(ctx context.Context, pipeline, mode string) ([]db.PipelineConfig, error)
	UpdatePipelineConfig(ctx context.Context, pipeline, mode string, patch db.PipelineConfigPatch) (*db.PipelineConfig, error)
	GetModeStats(ctx context.Context, pipeline string) ([]db.ModeStats, error)
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	db         *db.DB
	store      store
	runner     runExecutor
	executor   ingest.QueryExecutor
}

// Config holds server configuration
type Config struct {
	Port        int
	DatabaseURL string
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	// Connect to database
	database, err := db.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Runs left in status running by a crashed process would hold their
	// single-flight slot forever; sweep them before accepting traffic.
	if released, err := database.ReleaseStaleRuns(context.Background(), 24*time.Hour); err != nil {
		log.Printf("Failed to release stale runs: %v", err)
	} else if released > 0 {
		log.Printf("Released %d stale running run(s)", released)
	}

	redashConfig, err := redash.NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create redash config: %w", err)
	}
	client := redash.NewClient(redashConfig, nil)

	registry := pipeline.NewRegistry(database)
	runner := pipeline.NewRunner(registry, ingest.Workers(client, database), "api")

	s := &Server{
		db:       database,
		store:    database,
		runner:   runner,
		executor: client,
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withLogging(s.withCORS(s.routes())),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for pipeline runs
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /pipelines/runs", s.handleStartRun)
	mux.HandleFunc("GET /pipelines/runs", s.handleListRuns)
	mux.HandleFunc("GET /pipelines/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /pipelines/config", s.handleGetConfig)
	mux.HandleFunc("PATCH /pipelines/config", s.handlePatchConfig)
	mux.HandleFunc("GET /pipelines/stats", s.handleStats)
	mux.HandleFunc("GET /pipelines/query-test", s.handleQueryTestGet)
	mux.HandleFunc("POST /pipelines/query-test", s.handleQueryTestPost)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins listening for requests
func (s *Server) Start() error {
	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-stop
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.db.Close()
	log.Println("Server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]any{"ok": false, "error": message})
}
