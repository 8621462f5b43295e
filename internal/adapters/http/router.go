package httpadapter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

type RouterOptions struct {
	// Events is optional; without it the events endpoint answers 404.
	Events  ports.EventReader
	Metrics http.Handler
	// Instrument runs inside the chi stack so it can read the matched route.
	Instrument func(http.Handler) http.Handler
	Logger     *slog.Logger
}

// Router serves the read-only status API over pipeline state and results.
type Router struct {
	states  ports.StateReader
	results ports.ResultReader
	opts    RouterOptions
	logger  *slog.Logger
}

func NewRouter(states ports.StateReader, results ports.ResultReader, opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		states:  states,
		results: results,
		opts:    opts,
		logger:  logger,
	}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(accessLog(rt.logger))
	if rt.opts.Instrument != nil {
		r.Use(rt.opts.Instrument)
	}

	r.Get("/healthz", rt.healthz)
	if rt.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/documents", rt.listDocuments)
		r.Get("/documents/{documentID}", rt.getDocument)
		r.Get("/documents/{documentID}/mined", rt.getMinedFields)
		r.Get("/documents/{documentID}/events", rt.getEvents)
		r.Get("/reports/latest", rt.latestReport)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type documentList struct {
	Documents []domain.ProcessingState `json:"documents"`
	Counts    map[string]int           `json:"counts"`
}

// listDocuments supports ?stage= and ?status= filters.
func (rt *Router) listDocuments(w http.ResponseWriter, r *http.Request) {
	stageFilter := strings.TrimSpace(r.URL.Query().Get("stage"))
	statusFilter := strings.TrimSpace(r.URL.Query().Get("status"))
	if stageFilter != "" {
		if _, ok := domain.ParseStage(stageFilter); !ok {
			rt.writeDomainError(w, r, domain.WrapError(domain.ErrInvalidInput, "list documents", fmt.Errorf("unknown stage %q", stageFilter)))
			return
		}
	}

	states, err := rt.states.List(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}

	out := documentList{Documents: make([]domain.ProcessingState, 0, len(states)), Counts: map[string]int{}}
	for _, state := range states {
		out.Counts[string(state.Stage)]++
		if stageFilter != "" && string(state.Stage) != stageFilter {
			continue
		}
		if statusFilter != "" && string(state.Status) != statusFilter {
			continue
		}
		out.Documents = append(out.Documents, state)
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	state, err := rt.states.Get(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (rt *Router) getMinedFields(w http.ResponseWriter, r *http.Request) {
	fields, err := rt.results.LoadMined(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fields": fields})
}

func (rt *Router) getEvents(w http.ResponseWriter, r *http.Request) {
	if rt.opts.Events == nil {
		writeError(w, http.StatusNotFound, "audit log not available")
		return
	}
	events, err := rt.opts.Events.Events(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (rt *Router) latestReport(w http.ResponseWriter, r *http.Request) {
	report, err := rt.results.LatestReport(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
