package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/pipresencemon/internal/history"
	"github.com/nerrad567/pipresencemon/internal/supervisor"
)

// Command set names accepted by /commands/{set}.
const (
	setOccupancy = "occupancy"
	setVacancy   = "vacancy"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	// Registered before the /api/v1 mount; chi matches the static path
	// ahead of the mount's catch-all.
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/commands", func(r chi.Router) {
			r.Get("/", s.handleListCommands)
			r.Get("/{set}", s.handleListCommandSet)
		})

		r.Get("/history", s.handleListHistory)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.status.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"state":   snap.State,
	})
}

// handleStatus returns the full daemon snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	cmds := s.status.Status().Commands
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": cmds,
		"count":    len(cmds),
	})
}

func (s *Server) handleListCommandSet(w http.ResponseWriter, r *http.Request) {
	set := chi.URLParam(r, "set")
	if set != setOccupancy && set != setVacancy {
		writeNotFound(w, "command set must be occupancy or vacancy")
		return
	}

	cmds := []supervisor.CommandStats{}
	for _, c := range s.status.Status().Commands {
		if c.Set == set {
			cmds = append(cmds, c)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"set":      set,
		"commands": cmds,
		"count":    len(cmds),
	})
}

// handleListHistory returns paginated history entries.
//
// Query parameters:
//   - kind: occupancy or command
//   - event: e.g. occupied, vacant, launched, crashed
//   - set: occupancy or vacancy
//   - since: RFC 3339 timestamp
//   - limit: max results (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is not enabled")
		return
	}

	q := r.URL.Query()
	filter := history.Filter{
		Kind:  q.Get("kind"),
		Event: q.Get("event"),
		Set:   q.Get("set"),
	}

	switch filter.Kind {
	case "", history.KindOccupancy, history.KindCommand:
	default:
		writeBadRequest(w, "kind must be occupancy or command")
		return
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list history", "error", err)
		writeInternalError(w, "failed to list history")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
