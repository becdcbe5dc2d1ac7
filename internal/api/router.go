package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/austin-relay/internal/runs"
)

const (
	// maxListLimit caps GET /runs?limit.
	maxListLimit = 500

	// healthCheckTimeout bounds each dependency check in GET /health.
	healthCheckTimeout = 2 * time.Second
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(s.recoverPanic)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/status", s.handleStatus)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/current/stop", s.handleStopRun)
			r.Get("/{id}", s.handleGetRun)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the server and its dependencies. A failing optional
// dependency makes the status "degraded", never an error response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "ok"

	check := func(name string, fn func(context.Context) error) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}

	if s.db != nil {
		check("database", s.db.HealthCheck)
	}
	if s.mqtt != nil {
		check("mqtt", s.mqtt.HealthCheck)
	}
	if s.influx != nil {
		check("influxdb", s.influx.HealthCheck)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"checks":  checks,
	})
}

// handleStatus returns a snapshot of the relay.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status())
}

// handleListRuns returns recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := runs.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			writeError(w, r, http.StatusBadRequest, "limit must be an integer between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}

	list, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  list,
		"count": len(list),
	})
}

// handleGetRun returns one run by ID.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, runs.ErrRunNotFound) {
			writeError(w, r, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("getting run", "run_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// handleStopRun asks the relay to stop. It returns 202 straight away;
// the run's terminated event follows on the lifecycle channel.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	st := s.relay.Status()
	if !st.Active {
		writeError(w, r, http.StatusConflict, "no run in progress")
		return
	}

	s.relay.Stop()
	s.logger.Info("run stop requested via API", "run_id", st.RunID)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "stopping",
		"run_id": st.RunID,
	})
}
