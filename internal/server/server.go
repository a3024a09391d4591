package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jedisct1/inferswitch/internal/backends"
	"github.com/jedisct1/inferswitch/internal/middleware"
	"github.com/jedisct1/inferswitch/internal/routing"
)

// Server is the HTTP front of the gateway. It owns the router, the
// backend registry and the middleware stack; backends themselves are
// registered by the caller.
type Server struct {
	router     *routing.Router
	registry   *backends.Registry
	classifier Classifier
	httpServer *http.Server
	logger     *logrus.Logger
	config     *ServerConfig

	securityMiddleware   *middleware.SecurityMiddleware
	validationMiddleware *middleware.ValidationMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`

	// ProxyMode dispatches to the selected backend. When off, routing
	// still runs but the reply is synthesized locally.
	ProxyMode bool

	CORSAllowedOrigins []string

	Security   *middleware.SecurityMiddlewareConfig
	Validation *middleware.ValidationConfig
}

// NewServer creates a new server instance. The classifier may be nil,
// in which case no classification labels are attached to requests.
func NewServer(router *routing.Router, registry *backends.Registry, classifier Classifier, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	server := &Server{
		router:     router,
		registry:   registry,
		classifier: classifier,
		logger:     logger,
		config:     config,
	}

	if config.Security != nil {
		server.securityMiddleware = middleware.NewSecurityMiddleware(config.Security, logger)
	}

	if config.Validation != nil {
		validationMiddleware, err := middleware.NewValidationMiddleware(config.Validation, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize validation middleware: %w", err)
		}
		server.validationMiddleware = validationMiddleware
	}

	return server, nil
}

// Routes builds the server's handler without binding a listener.
func (s *Server) Routes() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithFields(logrus.Fields{
		"port":       s.config.Port,
		"proxy_mode": s.config.ProxyMode,
	}).Info("Starting inferswitch server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping inferswitch server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Security middleware runs first so nothing reaches a handler
	// unauthenticated.
	if s.securityMiddleware != nil {
		r.Use(s.securityMiddleware.Handler())
		r.Use(s.securityMiddleware.CORSMiddleware(s.corsOrigins()))
	} else {
		r.Use(s.corsMiddleware)
	}

	r.Use(s.loggingMiddleware)
	r.Use(s.contentTypeMiddleware)

	if s.validationMiddleware != nil {
		r.Use(s.validationMiddleware.Middleware)
	}

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/messages", s.handleMessages).Methods("POST")

	// Introspection endpoints
	api.HandleFunc("/backends", s.handleListBackends).Methods("GET")
	api.HandleFunc("/backends/{name}", s.handleGetBackend).Methods("GET")
	api.HandleFunc("/routing/decision", s.handleRoutingDecision).Methods("POST")

	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	s.setupSwaggerRoutes(r)

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.config.CORSAllowedOrigins) > 0 {
		return s.config.CORSAllowedOrigins
	}
	return []string{"*"}
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, Anthropic-Version, X-Backend")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeError(w, backends.NewError(backends.KindInvalidRequest,
					"Content-Type must be application/json", ""))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Introspection handlers

type backendInfo struct {
	Name    string   `json:"name"`
	Models  []string `json:"models,omitempty"`
	Dynamic bool     `json:"dynamic"`
}

// handleListBackends lists every registered backend with its declared
// models and the models currently held out of rotation.
func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	infos := make([]backendInfo, 0, len(names))
	for _, name := range names {
		b, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, backendInfo{
			Name:    b.Name(),
			Models:  b.Models(),
			Dynamic: b.DynamicModelList(),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends":        infos,
		"count":           len(infos),
		"disabled_models": s.router.DisabledModels(),
	})
}

// handleGetBackend returns one backend's declared models.
func (s *Server) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	b, ok := s.registry.Get(name)
	if !ok {
		s.writeError(w, backends.NewError(backends.KindInvalidRequest,
			fmt.Sprintf("unknown backend %q", name), name))
		return
	}

	s.writeJSON(w, http.StatusOK, backendInfo{
		Name:    b.Name(),
		Models:  b.Models(),
		Dynamic: b.DynamicModelList(),
	})
}

// handleRoutingDecision runs the routing chain without dispatching
// anything and reports the outcome.
func (s *Server) handleRoutingDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model        string   `json:"model"`
		Backend      string   `json:"backend,omitempty"`
		Difficulty   *float64 `json:"difficulty,omitempty"`
		ExpertName   string   `json:"expert_name,omitempty"`
		ExpertiseTag string   `json:"expertise_tag,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, backends.NewError(backends.KindInvalidRequest,
			fmt.Sprintf("invalid JSON: %v", err), ""))
		return
	}
	if req.Model == "" {
		s.writeError(w, backends.NewError(backends.KindInvalidRequest, "model is required", ""))
		return
	}

	decision, err := s.router.Explain(routing.Query{
		Model:           req.Model,
		ExplicitBackend: req.Backend,
		Difficulty:      req.Difficulty,
		ExpertName:      req.ExpertName,
		ExpertiseTag:    req.ExpertiseTag,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, decision)
}

// handleHealthCheck reports liveness. Backend reachability is never
// checked actively; disabled models reflect what the tracker has
// observed.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"backends":        len(s.registry.Names()),
		"disabled_models": s.router.DisabledModels(),
		"timestamp":       time.Now().Unix(),
	})
}

// Helpers

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError renders any error in the canonical wire shape. Tagged
// backend errors carry their own status; anything else is a 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var apiErr *backends.Error
	if errors.As(err, &apiErr) {
		s.writeJSON(w, apiErr.StatusCode, apiErr.ToAPI())
		return
	}
	s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "api_error",
			"message": err.Error(),
		},
	})
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

// Flush forwards to the wrapped writer so SSE works through the
// logging middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
