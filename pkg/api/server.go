package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/kestrel-eng/feasgen/pkg/metrics"
	"github.com/kestrel-eng/feasgen/pkg/pipeline"
	"github.com/kestrel-eng/feasgen/pkg/store"
)

// ServerConfig holds the configuration for the HTTP server.
type ServerConfig struct {
	Logger  *slog.Logger
	Manager *RunManager
	Store   store.Store
}

func (cfg *ServerConfig) Validate() error {
	if cfg.Manager == nil {
		return errors.New("run manager is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

// Server serves the run API: create a run, read its record, stream its
// progress.
type Server struct {
	log     *slog.Logger
	manager *RunManager
	store   store.Store
	router  chi.Router
}

// NewServer creates a Server with its routes mounted.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:     cfg.Logger,
		manager: cfg.Manager,
		store:   cfg.Store,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleCreateRun)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleGetRun)
		r.Get("/{id}/events", s.handleRunEvents)
	})

	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type createRunRequest struct {
	Documents []string          `json:"documents"`
	Metadata  map[string]string `json:"metadata"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		http.Error(w, "At least one document is required", http.StatusBadRequest)
		return
	}

	id, err := s.manager.Start(pipeline.Inputs{
		Documents: req.Documents,
		Metadata:  req.Metadata,
	})
	if err != nil {
		http.Error(w, "Failed to start run", http.StatusInternalServerError)
		return
	}

	s.logInfo("api: run started", "run", id, "documents", len(req.Documents))
	writeJSON(w, http.StatusAccepted, createRunResponse{RunID: id.String()})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListRuns(r.Context(), 0)
	if err != nil {
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*pipeline.RunRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

type runProgressResponse struct {
	RunID     string    `json:"run_id"`
	Phase     string    `json:"phase"`
	Stage     string    `json:"stage,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	record, err := s.store.GetRun(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, record)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	// Not persisted yet: report in-flight progress if the run is active.
	if s.manager.Active(id) {
		resp := runProgressResponse{RunID: id.String(), Phase: "running"}
		if e, ok := s.manager.LastEvent(id); ok {
			resp.Stage = string(e.Stage)
			resp.Status = string(e.Status)
			resp.Timestamp = e.Timestamp
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	http.Error(w, "Run not found", http.StatusNotFound)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid run ID", http.StatusBadRequest)
		return
	}

	events, cancel, err := s.manager.Subscribe(id)
	if err != nil {
		http.Error(w, "Run is not active", http.StatusNotFound)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, open := <-events:
			if !open {
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: stage\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.log != nil {
		s.log.Info(msg, args...)
	}
}
