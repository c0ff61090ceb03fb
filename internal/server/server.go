package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/request-router/internal/middleware"
	"github.com/tributary-ai/request-router/internal/routing"
	"github.com/tributary-ai/request-router/internal/telemetry"
	"github.com/tributary-ai/request-router/internal/types"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
)

// Server represents the HTTP server
type Server struct {
	router             *routing.Router
	httpServer         *http.Server
	handler            http.Handler
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
	validation         *middleware.ValidationMiddleware
	metricsRegistry    *prometheus.Registry
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string                               `yaml:"port"`
	ReadTimeout    time.Duration                        `yaml:"read_timeout"`
	WriteTimeout   time.Duration                        `yaml:"write_timeout"`
	IdleTimeout    time.Duration                        `yaml:"idle_timeout"`
	MaxHeaderBytes int                                  `yaml:"max_header_bytes"`
	Security       *middleware.SecurityMiddlewareConfig `yaml:"security"`
	CORS           middleware.CORSConfig                `yaml:"cors"`
	Validation     *middleware.ValidationConfig         `yaml:"validation"`
}

// NewServer creates a new server instance
func NewServer(router *routing.Router, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	if config == nil {
		config = &ServerConfig{Port: "8080"}
	}

	server := &Server{
		router:          router,
		logger:          logger,
		config:          config,
		metricsRegistry: prometheus.NewRegistry(),
	}

	if config.Security != nil {
		securityMiddleware, err := middleware.NewSecurityMiddleware(config.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		server.securityMiddleware = securityMiddleware
	}

	if config.Validation != nil && config.Validation.Enabled {
		validation, err := middleware.NewValidationMiddleware(config.Validation, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize request validation: %w", err)
		}
		server.validation = validation
	}

	if err := server.metricsRegistry.Register(telemetry.NewCollector(router)); err != nil {
		return nil, fmt.Errorf("failed to register router collector: %w", err)
	}
	server.metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server.handler = server.buildHandler()
	return server, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        s.handler,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting request router server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping request router server")

	if s.securityMiddleware != nil {
		s.securityMiddleware.Stop()
	}

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// buildHandler wraps the route table, outermost first: request id,
// logging, CORS, security, request validation
func (s *Server) buildHandler() http.Handler {
	var handler http.Handler = s.setupRoutes()

	if s.validation != nil {
		handler = s.validation.Middleware(handler)
	}
	if s.securityMiddleware != nil {
		handler = s.securityMiddleware.Handler()(handler)
	}
	handler = middleware.CORS(s.config.CORS)(handler)
	handler = s.loggingMiddleware(handler)
	return middleware.RequestID(handler)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// registered on the root router so its NotFound and MethodNotAllowed handlers apply
	r.HandleFunc("/v1/route", s.handleRoute).Methods(http.MethodPost)
	r.HandleFunc("/v1/route/decision", s.handleRoutingDecision).Methods(http.MethodPost)
	r.HandleFunc("/v1/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/v1/services", s.handleListServices).Methods(http.MethodGet)
	r.HandleFunc("/v1/services/{name}", s.handleGetService).Methods(http.MethodGet)
	r.HandleFunc("/v1/history", s.handleHistory).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.setupSwaggerRoutes(r)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("%s not allowed on %s", r.Method, r.URL.Path))
	})

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.RequestIDFromContext(r.Context()),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// Handlers

// handleRoute routes and executes a request
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := s.router.RouteRequest(r.Context(), req)
	if err != nil {
		s.writeRouterError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleRoutingDecision returns the routing decision without executing the request
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	decision, err := s.router.Decide(r.Context(), req)
	if err != nil {
		s.writeRouterError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.router.GetMetrics())
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services := s.router.GetServiceHealth()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": services,
		"count":    len(services),
	})
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	service, exists := s.router.GetService(name)
	if !exists {
		s.writeErrorResponse(w, http.StatusNotFound, "not_found", fmt.Sprintf("service %s not found", name))
		return
	}

	s.writeJSON(w, http.StatusOK, service)
}

// handleHistory returns recent results, oldest first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeErrorResponse(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	history := s.router.GetRoutingHistory(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": history,
		"count":   len(history),
	})
}

// handleHealthCheck reports 200 while at least one endpoint can take traffic
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	services := s.router.GetServiceHealth()

	eligible := 0
	states := make(map[string]types.HealthState, len(services))
	for _, service := range services {
		states[service.Name] = service.Health
		if service.Health != types.HealthUnhealthy {
			eligible++
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if eligible == 0 {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"eligible":  eligible,
		"services":  states,
		"timestamp": time.Now().Unix(),
	})
}

// Helper functions

func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*types.RoutingRequest, bool) {
	var req types.RoutingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "validation_error", fmt.Sprintf("invalid JSON: %v", err))
		return nil, false
	}
	return &req, true
}

func (s *Server) writeRouterError(w http.ResponseWriter, err error) {
	var validationErr *types.ValidationError
	var noServiceErr *types.NoAvailableServiceError

	switch {
	case errors.As(err, &validationErr):
		s.writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: types.ErrorDetail{
			Message: err.Error(),
			Type:    "validation_error",
			Code:    strconv.Itoa(http.StatusBadRequest),
			Details: validationErr.Problems,
		}})
	case errors.As(err, &noServiceErr):
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "no_available_service", err.Error())
	default:
		s.logger.WithError(err).Error("Routing failed")
		s.writeErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorType, message string) {
	s.writeJSON(w, statusCode, types.ErrorResponse{Error: types.ErrorDetail{
		Message: message,
		Type:    errorType,
		Code:    strconv.Itoa(statusCode),
	}})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
