package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/exambench/internal/i18n"
	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/store"
)

// RunReader is the read side of the run store.
type RunReader interface {
	ListRuns(f store.RunFilter) ([]model.BenchmarkRun, error)
	GetRun(id string) (*model.BenchmarkRun, error)
	ExportRun(id string) (*model.RunExport, error)
}

// Handler serves the read-only runs API.
type Handler struct {
	runs      RunReader
	tokenHash []byte
}

// New creates a Handler. A nil tokenHash leaves the API unauthenticated.
func New(runs RunReader, tokenHash []byte) *Handler {
	return &Handler{runs: runs, tokenHash: tokenHash}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(api chi.Router) {
		api.Use(h.requireToken)
		api.Get("/runs", h.handleListRuns)
		api.Get("/runs/{runID}", h.handleGetRun)
		api.Get("/runs/{runID}/attempts", h.handleListAttempts)
		api.Get("/runs/{runID}/metrics", h.handleMetrics)
		api.Get("/runs/{runID}/export", h.handleExport)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RunFilter{
		ProfileID: q.Get("profile"),
		Status:    model.RunStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	runs, err := h.runs.ListRuns(f)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Attempts)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Metrics)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	exp, err := h.runs.ExportRun(chi.URLParam(r, "runID"))
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if exp == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "ErrNotFound"))
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+exp.Run.ID+`.json"`)
	writeJSON(w, http.StatusOK, exp)
}

// loadRun fetches the run named in the URL, writing the error response itself
// when it cannot.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*model.BenchmarkRun, bool) {
	run, err := h.runs.GetRun(chi.URLParam(r, "runID"))
	if err != nil {
		h.internalError(w, r, err)
		return nil, false
	}
	if run == nil {
		writeError(w, http.StatusNotFound, appI18n.T(r.Context(), "ErrNotFound"))
		return nil, false
	}
	return run, true
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ErrInternal"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
