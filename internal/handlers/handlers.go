package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/database"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// Store is the read side of the run history.
type Store interface {
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListTrackResults(ctx context.Context, runID string) ([]models.TrackResult, error)
	GetRunStats(ctx context.Context) (*database.RunStats, error)
}

type Handler struct {
	store   Store
	version string
	logger  zerolog.Logger
}

func New(store Store, version string, logger zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		version: version,
		logger:  logger,
	}
}

// Router mounts the API under /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.HealthCheck)
		r.Get("/stats", h.GetRunStats)

		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/tracks", h.ListTrackResults)
		r.Get("/runs/{id}/manifest", h.GetManifest)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request")
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// Runs

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) (*models.Run, bool) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "Run not found")
		} else {
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return run, true
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.getRun(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handler) ListTrackResults(w http.ResponseWriter, r *http.Request) {
	run, ok := h.getRun(w, r)
	if !ok {
		return
	}

	tracks, err := h.store.ListTrackResults(r.Context(), run.ID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tracks == nil {
		tracks = []models.TrackResult{}
	}
	h.respondJSON(w, http.StatusOK, tracks)
}

// GetManifest streams the manifest file recorded for the run.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	run, ok := h.getRun(w, r)
	if !ok {
		return
	}
	if !run.ManifestPath.Valid {
		h.respondError(w, http.StatusNotFound, "Run has no manifest")
		return
	}

	f, err := os.Open(run.ManifestPath.String)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			h.respondError(w, http.StatusNotFound, "Manifest file missing")
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Manifest stream interrupted")
	}
}

// Stats

func (h *Handler) GetRunStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetRunStats(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// Health check

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}
