package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/config"
	"github.com/hireworks/jobsift/internal/dispatcher"
	"github.com/hireworks/jobsift/internal/jobs"
)

// Deps carries the collaborators the HTTP surface needs.
type Deps struct {
	RunStore   jobs.RunStore
	Dispatcher *dispatcher.Dispatcher
	IDGen      jobs.IDGenerator
	Clock      jobs.Clock
	Config     config.Config
	// Metrics serves GET /metrics; nil disables the route.
	Metrics http.Handler
	// MetricsMiddleware records request metrics when set.
	MetricsMiddleware func(http.Handler) http.Handler
	// Progress serves the read-only progress routes; nil leaves them
	// returning 503.
	Progress *ProgressHandler
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	runStore   jobs.RunStore
	dispatcher *dispatcher.Dispatcher
	idGen      jobs.IDGenerator
	clock      jobs.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runStore:   deps.RunStore,
		dispatcher: deps.Dispatcher,
		idGen:      deps.IDGen,
		clock:      deps.Clock,
		cfg:        deps.Config,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if deps.MetricsMiddleware != nil {
		r.Use(deps.MetricsMiddleware)
	}
	if deps.Config.Auth.Enabled {
		r.Use(apiKeyMiddleware(deps.Config.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	progress := deps.Progress
	if progress == nil {
		progress = NewProgressHandler(nil, logger)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Post("/standard", s.submitStandardRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/status", s.getRunStatus)
				r.Get("/result", s.getRunResult)
				r.Post("/cancel", s.cancelRun)
			})
		})
		r.Route("/progress", func(r chi.Router) {
			r.Get("/runs", progress.ListRuns)
			r.Get("/runs/{run_id}", progress.GetRun)
			r.Get("/runs/{run_id}/companies", progress.ListRunCompanies)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	Keywords      string            `json:"keywords"`
	Location      string            `json:"location"`
	MaxPostings   *int              `json:"max_postings"`
	MaxPerCompany *int              `json:"max_per_company"`
	FetchATS      *bool             `json:"fetch_ats"`
	Headless      *bool             `json:"headless"`
	Tags          map[string]string `json:"tags"`
}

type standardRunRequest struct {
	Name string `json:"name"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toRunParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID, err := s.enqueueRun(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) submitStandardRun(w http.ResponseWriter, r *http.Request) {
	var req standardRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing run name")
		return
	}
	template, ok := s.cfg.StandardRuns[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "standard run template not found")
		return
	}
	params := s.applyDefaults(cloneRunParameters(template))
	if params.Keywords == "" {
		writeError(w, http.StatusBadRequest, "standard run template has no keywords")
		return
	}
	runID, err := s.enqueueRun(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) getRunResult(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	result, err := s.runStore.GetResult(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "result not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "result": result})
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}
	run, err := s.runStore.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	switch run.Status {
	case jobs.RunStatusSucceeded, jobs.RunStatusFailed, jobs.RunStatusCanceled:
		writeError(w, http.StatusConflict, "run already finished")
		return
	}
	if err := s.runStore.UpdateRunStatus(
		r.Context(),
		runID,
		jobs.RunStatusCanceled,
		"canceled via API",
		run.Counters,
	); err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": string(jobs.RunStatusCanceled)})
}

func (s *Server) enqueueRun(ctx context.Context, params jobs.RunParameters) (string, error) {
	runID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	now := s.clock.Now()
	run := jobs.Run{
		ID:         runID,
		Status:     jobs.RunStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.runStore.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := jobs.RunItem{
		RunID:     runID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue run: %w", err)
	}
	return runID, nil
}

func (s *Server) toRunParameters(req runRequest) (jobs.RunParameters, error) {
	if req.Keywords == "" {
		return jobs.RunParameters{}, errors.New("keywords required")
	}
	params := jobs.RunParameters{
		Keywords: req.Keywords,
		Location: req.Location,
		Tags:     req.Tags,
	}
	if req.MaxPostings != nil {
		params.MaxPostings = *req.MaxPostings
	}
	if req.MaxPerCompany != nil {
		params.MaxPerCompany = *req.MaxPerCompany
	}
	if req.FetchATS != nil {
		params.FetchATS = *req.FetchATS
		params.FetchATSProvided = true
	}
	if req.Headless != nil {
		params.Headless = *req.Headless
		params.HeadlessProvided = true
	}
	return s.applyDefaults(params), nil
}

func (s *Server) applyDefaults(params jobs.RunParameters) jobs.RunParameters {
	if params.MaxPostings <= 0 {
		params.MaxPostings = s.cfg.Pipeline.MaxPostingsDefault
	}
	if params.MaxPerCompany <= 0 {
		params.MaxPerCompany = s.cfg.Pipeline.MaxPerCompanyDefault
	}
	if !params.FetchATSProvided {
		params.FetchATS = s.cfg.Pipeline.FetchATS
		params.FetchATSProvided = true
	}
	if !params.HeadlessProvided {
		params.Headless = s.cfg.Discovery.Headless.Enabled
		params.HeadlessProvided = true
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params
}

func cloneRunParameters(src jobs.RunParameters) jobs.RunParameters {
	cp := src
	if src.Tags != nil {
		cp.Tags = make(map[string]string, len(src.Tags))
		for k, v := range src.Tags {
			cp.Tags[k] = v
		}
	}
	return cp
}

func parseRunID(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := chi.URLParam(r, "run_id")
	if _, err := uuid.Parse(runID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return "", false
	}
	return runID, true
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
