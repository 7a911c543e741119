// Package server exposes the REST API.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/prdigest/prdigest/internal/db"
	"github.com/prdigest/prdigest/internal/github"
	"github.com/prdigest/prdigest/internal/report"
)

type Server struct {
	store   *db.Queries
	reports *report.Service
	log     *slog.Logger
	origins []string
}

func New(store *db.Queries, reports *report.Service, log *slog.Logger, corsAllowedOrigins string) *Server {
	if log == nil {
		log = slog.Default()
	}
	origins := strings.Split(corsAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return &Server{store: store, reports: reports, log: log, origins: origins}
}

// Handler builds the full middleware-wrapped route tree.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/repositories", s.handleListRepositories).Methods("GET")
	api.HandleFunc("/repositories", s.handleCreateRepository).Methods("POST")
	api.HandleFunc("/repositories/{id}", s.handleGetRepository).Methods("GET")
	api.HandleFunc("/repositories/{id}", s.handleDeleteRepository).Methods("DELETE")
	api.HandleFunc("/repositories/{id}/sync", s.handleSyncRepository).Methods("POST")
	api.HandleFunc("/repositories/{id}/pull-requests", s.handleListRepositoryPullRequests).Methods("GET")
	api.HandleFunc("/repositories/{id}/reports", s.handleListRepositoryReports).Methods("GET")
	api.HandleFunc("/repositories/{id}/reports", s.handleCreateRepositoryReport).Methods("POST")

	api.HandleFunc("/pull-requests", s.handleListPullRequests).Methods("GET")
	api.HandleFunc("/pull-requests/{id}", s.handleGetPullRequest).Methods("GET")
	api.HandleFunc("/pull-requests/{id}/reports", s.handleListReports).Methods("GET")
	api.HandleFunc("/pull-requests/{id}/reports", s.handleCreateReport).Methods("POST")
	api.HandleFunc("/pull-requests/{id}/reports/all", s.handleCreateAllReports).Methods("POST")

	api.HandleFunc("/reports/{id}/download", s.handleDownloadReport).Methods("GET")
	api.HandleFunc("/reports/{id}/preview", s.handlePreviewReport).Methods("GET")

	api.HandleFunc("/repository-reports", s.handleListAllRepositoryReports).Methods("GET")
	api.HandleFunc("/repository-reports/{id}/download", s.handleDownloadRepositoryReport).Methods("GET")

	api.HandleFunc("/report-templates", s.handleListTemplates).Methods("GET")
	api.HandleFunc("/report-templates", s.handleCreateTemplate).Methods("POST")
	api.HandleFunc("/report-templates/{id}", s.handleGetTemplate).Methods("GET")
	api.HandleFunc("/report-templates/{id}", s.handleUpdateTemplate).Methods("PUT")
	api.HandleFunc("/report-templates/{id}", s.handleDeleteTemplate).Methods("DELETE")
	api.HandleFunc("/report-templates/{id}/duplicate", s.handleDuplicateTemplate).Methods("POST")

	api.HandleFunc("/insights", s.handleListInsights).Methods("GET")
	api.HandleFunc("/insights/refresh", s.handleRefreshInsights).Methods("POST")

	api.HandleFunc("/statistics", s.handleStatistics).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return s.requestLogger(c.Handler(r))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"id", uuid.NewString(),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond).String(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps the error taxonomy onto HTTP status codes and writes
// a JSON {message} body.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, report.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound), errors.Is(err, github.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, github.ErrAuth):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	respondJSON(w, status, map[string]string{"message": err.Error()})
}
