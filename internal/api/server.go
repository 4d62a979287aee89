// Package api exposes a read-mostly operator surface over the catalog and
// ledger: inspect task state, list terminal failures, and requeue them.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/ledger"
	"hdri-render-farm/internal/models"
	"hdri-render-farm/internal/telemetry"
)

// Server wires HTTP handlers for the operator API.
type Server struct {
	cfg    config.Config
	ledger ledger.Ledger
	tasks  []models.Task
	byID   map[string]models.Task
}

// New constructs the API server over an enumerated catalog.
func New(cfg config.Config, led ledger.Ledger, tasks []models.Task) *Server {
	byID := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	return &Server{cfg: cfg, ledger: led, tasks: tasks, byID: byID}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/summary", s.handleSummary)
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Get("/failed", s.handleFailed)
	r.Post("/tasks/{id}/requeue", s.handleRequeue)
	return r
}

type taskStatusResponse struct {
	Task   models.Task       `json:"task"`
	Record *models.RunRecord `json:"record,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.byID[id]
	if !ok {
		http.Error(w, "task not in catalog", http.StatusNotFound)
		return
	}
	resp := taskStatusResponse{Task: task}
	rec, found, err := s.ledger.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if found {
		resp.Record = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	failed, err := s.ledger.Failed(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"catalog_tasks":   len(s.tasks),
		"terminal_failed": len(failed),
	})
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	records, err := s.ledger.Failed(r.Context())
	if err != nil {
		http.Error(w, "failed to read ledger", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.byID[id]; !ok {
		http.Error(w, "task not in catalog", http.StatusNotFound)
		return
	}
	if err := s.ledger.Requeue(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
