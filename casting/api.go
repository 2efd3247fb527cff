package casting

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/casting/horosafe"
	"github.com/hazyhaar/casting/shield"
)

// ActorHeader names the operator recorded in the audit log for API calls.
const ActorHeader = "X-Actor"

// Handler returns the operator HTTP API.
//
//	GET  /health
//	GET  /api/sources                   POST /api/sources
//	POST /api/sources/{id}/active
//	GET  /api/candidates?status=&limit= GET  /api/candidates/{id}
//	POST /api/candidates/{id}/moderate
//	GET  /api/cycles?source_id=&limit=
//	GET  /api/audit/{id}
//	POST /api/run
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(s.logger) {
		r.Use(mw)
	}
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(actorMiddleware)

		r.Route("/api/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Post("/", s.handleAddSource)
			r.Post("/{id}/active", s.handleSetActive)
		})
		r.Route("/api/candidates", func(r chi.Router) {
			r.Get("/", s.handleListCandidates)
			r.Get("/{id}", s.handleGetCandidate)
			r.Post("/{id}/moderate", s.handleModerate)
		})
		r.Get("/api/cycles", s.handleCycles)
		r.Get("/api/audit/{id}", s.handleAudit)
		r.Post("/api/run", s.handleRun)
	})
	return r
}

func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get(ActorHeader); a != "" && len(a) <= maxNameLen {
			r = r.WithContext(WithActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	queued, err := s.QueuedMessages(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"queued_messages": queued,
		"breakers":        s.BreakerStates(),
	})
}

func (s *Service) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.ListSources(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []*Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Service) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var in SourceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	src, err := s.AddSource(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Service) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, errors.New("active is required"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.SetSourceActive(r.Context(), id, *req.Active); err != nil {
		s.writeError(w, r, err)
		return
	}
	src, err := s.GetSource(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Service) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	list, err := s.ListCandidates(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*Candidate{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Service) handleGetCandidate(w http.ResponseWriter, r *http.Request) {
	c, err := s.GetCandidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Service) handleModerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c, err := s.Moderate(r.Context(), chi.URLParam(r, "id"), req.Status, req.Note)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Service) handleCycles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.CycleHistory(r.Context(), r.URL.Query().Get("source_id"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*CycleLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.AuditTrail(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeError maps service errors to status codes.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, horosafe.ErrSSRF),
		errors.Is(err, horosafe.ErrUnsafeScheme):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrDuplicateSource), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrRunInProgress):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ErrMissingCredentials):
		writeError(w, http.StatusPreconditionFailed, err)
	default:
		shield.GetLogger(r.Context()).Error("api: request failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
