package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qi7876/AutoAnnotator/internal/ledger"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type RunsResponse struct {
	Runs []ledger.Run `json:"runs"`
}

type UnitsResponse struct {
	Units []ledger.Unit `json:"units"`
}

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/runs", listRunsHandler(cfg))
	r.Get("/runs/{id}", getRunHandler(cfg))
	r.Get("/runs/{id}/units", listUnitsHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: "0.1.0",
			UptimeS: uptime,
		})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.Ledger.Runs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}
		if runs == nil {
			runs = []ledger.Run{}
		}
		WriteJSON(w, http.StatusOK, RunsResponse{Runs: runs})
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}

		run, err := cfg.Ledger.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, run)
	}
}

func listUnitsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "run id required", "BAD_REQUEST")
			return
		}

		units, err := cfg.Ledger.Units(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list units", "INTERNAL_ERROR")
			return
		}
		if units == nil {
			units = []ledger.Unit{}
		}
		WriteJSON(w, http.StatusOK, UnitsResponse{Units: units})
	}
}
