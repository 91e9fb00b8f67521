package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"erpsync/internal/config"
	"erpsync/internal/export"
	"erpsync/internal/metrics"
	"erpsync/internal/models"
	"erpsync/internal/service"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the sync service over a lightweight HTTP API. Handlers
// stay thin: parse, delegate to the service, encode.
type HTTPServer struct {
	cfg      *config.APIConfig
	svc      *service.EntityService
	exporter *export.Exporter
	auth     *HTTPAuth
	server   *http.Server
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, svc *service.EntityService, exporter *export.Exporter, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, svc: svc, exporter: exporter, logger: logger}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/sync/", srv.handleSync)
	mux.HandleFunc("/api/v1/jobs/", srv.handleJob)
	mux.HandleFunc("/api/v1/failed-jobs", srv.handleFailedJobs)
	mux.HandleFunc("/api/v1/failed-jobs/", srv.handleFailedJobRetry)
	mux.HandleFunc("/api/v1/entities/", srv.handleEntities)
	mux.HandleFunc("/api/v1/exports/", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// GET /api/v1/entities/{module}
// GET /api/v1/entities/{module}/{remoteID}
func (s *HTTPServer) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("entities")

	parts := splitPath(r.URL.Path, "/api/v1/entities/")
	switch len(parts) {
	case 1:
		s.handleEntityList(w, r, parts[0])
	case 2:
		s.handleEntityGet(w, r, parts[0], parts[1])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleEntityList(w http.ResponseWriter, r *http.Request, module string) {
	query := r.URL.Query()

	filter := models.EntityFilter{RemoteID: strings.TrimSpace(query.Get("remote_id"))}
	if since := strings.TrimSpace(query.Get("modified_since")); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid modified_since; expected RFC3339")
			return
		}
		filter.ModifiedSince = &t
	}

	page := parseIntParam(query.Get("page"), 0)
	pageSize := parseIntParam(query.Get("page_size"), 0)

	result, err := s.svc.GetEntityList(r.Context(), module, filter, page, pageSize)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleEntityGet(w http.ResponseWriter, r *http.Request, module, remoteID string) {
	result, err := s.svc.GetEntityByRemoteID(r.Context(), module, remoteID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if result.Data == nil && !result.SyncTriggered {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	status := http.StatusOK
	if result.Data == nil {
		// Записи ещё нет локально, синк запущен
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// POST /api/v1/sync/{module}
// GET  /api/v1/sync/{module}/status
func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("sync")
	parts := splitPath(r.URL.Path, "/api/v1/sync/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodPost:
		s.handleTrigger(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodGet:
		s.handleSyncStatus(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) handleTrigger(w http.ResponseWriter, r *http.Request, module string) {
	var body struct {
		Since *time.Time `json:"since"`
		Type  string     `json:"type"`
		Force bool       `json:"force"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := s.svc.TriggerManualSync(r.Context(), module, body.Since, body.Type, body.Force)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	status := http.StatusAccepted
	if result.Status == "skipped" {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request, module string) {
	tracker, err := s.svc.GetSyncStatus(r.Context(), module)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if tracker == nil {
		writeError(w, http.StatusNotFound, "module has never synced")
		return
	}
	writeJSON(w, http.StatusOK, tracker)
}

// GET /api/v1/jobs/{jobID}
func (s *HTTPServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("jobs")

	parts := splitPath(r.URL.Path, "/api/v1/jobs/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	job, err := s.svc.GetJobStatus(r.Context(), parts[0])
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GET /api/v1/failed-jobs?module=&page=&limit=
func (s *HTTPServer) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("failed_jobs")

	query := r.URL.Query()
	page := parseIntParam(query.Get("page"), 0)
	limit := parseIntParam(query.Get("limit"), 20)

	jobs, total, err := s.svc.ListFailedJobs(r.Context(), strings.TrimSpace(query.Get("module")), page, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": jobs,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// POST /api/v1/failed-jobs/{jobID}/retry
func (s *HTTPServer) handleFailedJobRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("failed_jobs_retry")

	parts := splitPath(r.URL.Path, "/api/v1/failed-jobs/")
	if len(parts) != 2 || parts[1] != "retry" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	newJobID, err := s.svc.RetryFailedJob(r.Context(), parts[0])
	if err != nil {
		if errors.Is(err, service.ErrFailedJobNotFound) {
			writeError(w, http.StatusNotFound, "failed job not found")
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"new_job_id": newJobID})
}

// POST /api/v1/exports/{module}
// POST /api/v1/exports/failed-jobs
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("exports")

	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	parts := splitPath(r.URL.Path, "/api/v1/exports/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var path string
	var err error
	if parts[0] == "failed-jobs" {
		path, err = s.exporter.ExportFailedJobs(r.Context(), strings.TrimSpace(r.URL.Query().Get("module")))
	} else {
		if !models.IsSupportedModule(parts[0]) {
			writeError(w, http.StatusBadRequest, "unsupported module: "+parts[0])
			return
		}
		path, err = s.exporter.ExportEntities(r.Context(), parts[0])
	}
	if err != nil {
		s.logger.Error().Err(err).Str("target", parts[0]).Msg("export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrUnsupportedModule) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func splitPath(path, prefix string) []string {
	trimmed := strings.TrimPrefix(path, prefix)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
