// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/okian/evalsync/internal/adapters/remote"
	service "github.com/okian/evalsync/internal/app"
	"github.com/okian/evalsync/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EvaluationDependencies
	SyncDependencies
	ReportDependencies
	StatusDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	statusHandler     *StatusHandler
	evaluationHandler *EvaluationHandler
	syncHandler       *SyncHandler
	reportHandler     *ReportHandler

	logger  logger.Logger
	origins []string
	extra   []func(context.Context, *mux.Router)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request and panic logging.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllowedOrigins sets the CORS origins. Defaults to any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithRoutes registers additional routes, such as API docs, on the same
// router.
func WithRoutes(register ...func(context.Context, *mux.Router)) Option {
	return func(s *Server) {
		s.extra = append(s.extra, register...)
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler:     NewHealthHandler(deps),
		statsHandler:      NewStatsHandler(deps),
		statusHandler:     NewStatusHandler(deps),
		evaluationHandler: NewEvaluationHandler(deps),
		syncHandler:       NewSyncHandler(deps),
		reportHandler:     NewReportHandler(deps),
		origins:           []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.Named("http")
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	r.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz")).Methods(http.MethodGet)
	r.Handle("/metrics", s.healthHandler.MetricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats")).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/status", MetricsMiddleware(s.statusHandler.HandleGetStatus, "status")).Methods(http.MethodGet)
	a.HandleFunc("/status", MetricsMiddleware(s.statusHandler.HandleCheck, "status")).Methods(http.MethodPost)

	a.HandleFunc("/evaluations", MetricsMiddleware(s.evaluationHandler.HandleList, "evaluations")).Methods(http.MethodGet)
	a.HandleFunc("/evaluations", MetricsMiddleware(s.evaluationHandler.HandleSubmit, "evaluations")).Methods(http.MethodPost)
	a.HandleFunc("/evaluations/{id}", MetricsMiddleware(s.evaluationHandler.HandleGet, "evaluation")).Methods(http.MethodGet)
	a.HandleFunc("/evaluations/{id}", MetricsMiddleware(s.evaluationHandler.HandleDelete, "evaluation")).Methods(http.MethodDelete)
	a.HandleFunc("/evaluations/{id}/pdi", MetricsMiddleware(s.reportHandler.HandlePdi, "pdi")).Methods(http.MethodGet)

	a.HandleFunc("/sync", MetricsMiddleware(s.syncHandler.HandleSync, "sync")).Methods(http.MethodPost)
	a.HandleFunc("/sync/force", MetricsMiddleware(s.syncHandler.HandleForceSync, "sync_force")).Methods(http.MethodPost)
	a.HandleFunc("/dedupe", MetricsMiddleware(s.syncHandler.HandleDedupe, "dedupe")).Methods(http.MethodPost)
	a.HandleFunc("/refresh", MetricsMiddleware(s.syncHandler.HandleRefresh, "refresh")).Methods(http.MethodPost)
	a.HandleFunc("/backup", MetricsMiddleware(s.syncHandler.HandleBackup, "backup")).Methods(http.MethodPost)

	a.HandleFunc("/analytics", MetricsMiddleware(s.reportHandler.HandleAnalytics, "analytics")).Methods(http.MethodGet)
	a.HandleFunc("/patients", MetricsMiddleware(s.reportHandler.HandlePatients, "patients")).Methods(http.MethodGet)
}

// Handler returns the routed API wrapped in recovery, request ids, access
// logging, CORS and compression.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	s.Register(ctx, r)
	for _, register := range s.extra {
		register(ctx, r)
	}

	var h http.Handler = r
	h = handlers.CompressHandler(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
	)(h)
	h = accessLog(s.logger, h)
	h = requestID(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{log: s.logger}),
		handlers.PrintRecoveryStack(true),
	)(h)
	return h
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates service errors into HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, remote.ErrUnreachable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
