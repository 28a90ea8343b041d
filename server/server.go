// Package server is the HTTP adapter over the tool surface plus the
// websocket push endpoint backed by the broadcaster.
//
// Routes are thin translations: every mutation delegates to the tool
// surface and maps its tagged errors onto status codes (not_found 404,
// invalid_input/invalid_transition/invalid_role 422, anything else 400).
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/taskrelay/board"
	"github.com/dshills/taskrelay/board/tool"
	"github.com/dshills/taskrelay/broadcast"
	"github.com/dshills/taskrelay/config"
	"github.com/dshills/taskrelay/runner"
)

// Server holds the adapter's collaborators.
type Server struct {
	surface     *tool.Surface
	broadcaster *broadcast.Broadcaster
	transcripts *runner.TranscriptReader
	cfg         *config.Config
	gatherer    prometheus.Gatherer
	log         *slog.Logger
}

// New builds the HTTP adapter.
func New(surface *tool.Surface, b *broadcast.Broadcaster, transcripts *runner.TranscriptReader, cfg *config.Config, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		surface:     surface,
		broadcaster: b,
		transcripts: transcripts,
		cfg:         cfg,
		gatherer:    gatherer,
		log:         log,
	}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/projects", func(r chi.Router) {
		r.Post("/", s.createProject)
		r.Get("/", s.listProjects)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", s.getProject)
			r.Delete("/", s.cancelProject)
			r.Get("/board", s.getBoard)
			r.Post("/steps", s.createSteps)
			r.Get("/steps", s.getSteps)
			r.Post("/tasks", s.createTask)
		})
	})

	r.Route("/tasks/{taskID}", func(r chi.Router) {
		r.Get("/", s.getTask)
		r.Patch("/", s.updateTask)
		r.Post("/move", s.moveTask)
		r.Post("/cancel", s.cancelTask)
		r.Post("/uncancel", s.uncancelTask)
		r.Post("/complete", s.completeTask)
		r.Post("/approve", s.approvePlan)
		r.Post("/output", s.setOutput)
		r.Post("/comments", s.addComment)
		r.Post("/subtasks", s.createSubtasks)
		r.Get("/dependencies", s.getDependencies)
		r.Get("/runs", s.getRuns)
		r.Get("/transcript", s.getTranscript)
	})

	r.Post("/dependencies", s.addDependency)
	r.Delete("/dependencies/{dependencyID}", s.removeDependency)

	r.Get("/ws", s.handleWS)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// writeJSON renders v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

// writeError maps tagged tool errors to status codes; anything untagged
// is a 400 with a generic body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var te *board.ToolError
	if errors.As(err, &te) {
		status := http.StatusBadRequest
		switch te.Kind {
		case board.KindNotFound:
			status = http.StatusNotFound
		case board.KindInvalidInput, board.KindInvalidTransition, board.KindInvalidRole:
			status = http.StatusUnprocessableEntity
		}
		s.writeJSON(w, status, te)
		return
	}
	s.log.Error("request failed", "error", err)
	s.writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":   "internal",
		"message": "operation failed",
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "invalid_input",
			"message": "malformed JSON body",
		})
		return false
	}
	return true
}
