package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sahithikokkula/sketchd/pkg/metrics"
	"github.com/sahithikokkula/sketchd/pkg/registry"
	"github.com/sahithikokkula/sketchd/pkg/sketches"
	"github.com/sahithikokkula/sketchd/pkg/storage"
)

type JSON map[string]any

func RegisterRoutes(r *mux.Router, db *sql.DB, reg *registry.Registry) {
	h := &Handler{db: db, reg: reg}
	r.Use(instrument)

	// Core endpoints
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/tables", h.ListTables).Methods(http.MethodGet)

	// Sketch lifecycle
	r.HandleFunc("/sketches", h.GetSketches).Methods(http.MethodGet)
	r.HandleFunc("/sketches", h.PostCreateSketch).Methods(http.MethodPost)
	r.HandleFunc("/sketches/{name}", h.GetSketch).Methods(http.MethodGet)
	r.HandleFunc("/sketches/{name}", h.DeleteSketch).Methods(http.MethodDelete)
	r.HandleFunc("/sketches/{name}/snapshot", h.PostSnapshot).Methods(http.MethodPost)

	// Sketch data
	r.HandleFunc("/sketches/{name}/add", h.PostAdd).Methods(http.MethodPost)
	r.HandleFunc("/sketches/{name}/query", h.GetQuery).Methods(http.MethodGet)
	r.HandleFunc("/sketches/{name}/merge", h.PostMerge).Methods(http.MethodPost)
	r.HandleFunc("/sketches/{name}/ingest", h.PostIngest).Methods(http.MethodPost)
}

type Handler struct {
	db  *sql.DB
	reg *registry.Registry
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sketch and registry errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sketches.ErrInvalidParameter):
		status = http.StatusBadRequest
	case errors.Is(err, sketches.ErrDimensionMismatch), errors.Is(err, registry.ErrExists):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, JSON{"error": err.Error()})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.ObserveRequest(route, time.Since(start).Seconds())
	})
}
