// Package liveserver serves the dashboard: WebSocket push of chain views,
// the REST API, health, Prometheus metrics and the static frontend.
package liveserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports overall health and a status per component.
type HealthFunc func() (healthy bool, components map[string]string)

// ConnectFunc returns the messages a client receives right after it
// subscribes to target, typically the last view of that target.
type ConnectFunc func(target string) []Message

// Options configures a Server. Zero values select the defaults noted below.
type Options struct {
	AllowedOrigins []string // "*" allows any origin outside production
	StaticDir      string   // empty disables the file server
	Production     bool
	MaxConnections int     // default 1000
	RateLimit      float64 // new sockets per second per IP, 0 disables
	RateBurst      int
}

type apiRoute struct {
	path    string
	handler http.HandlerFunc
	methods []string
}

// Server routes dashboard traffic. Configure it before calling Handler or
// Start.
type Server struct {
	hub       *Hub
	logger    Logger
	staticDir string
	origins   originPolicy
	gate      *gate

	mu        sync.Mutex
	srv       *http.Server
	apiRoutes []apiRoute
	health    HealthFunc
	onConnect ConnectFunc
}

// NewServer creates a new Server. logger may be nil.
func NewServer(hub *Hub, logger Logger, opts Options) *Server {
	return &Server{
		hub:       hub,
		logger:    logger,
		staticDir: opts.StaticDir,
		origins:   originPolicy{allowed: opts.AllowedOrigins, production: opts.Production},
		gate:      newGate(opts.MaxConnections, opts.RateLimit, opts.RateBurst),
	}
}

func (s *Server) info(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}

func (s *Server) warn(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}

// HandleAPI registers a REST handler under /api/v1. Responses are zstd
// compressed for clients that accept it.
func (s *Server) HandleAPI(path string, handler http.HandlerFunc, methods ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiRoutes = append(s.apiRoutes, apiRoute{path: path, handler: handler, methods: methods})
}

// SetHealthCheck replaces the default always-healthy check
func (s *Server) SetHealthCheck(fn HealthFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = fn
}

// SetOnConnect sets the greeting sent on connect and on every subscribe
func (s *Server) SetOnConnect(fn ConnectFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = fn
}

// Handler builds the route table. The static file server is registered last
// so it only catches paths nothing else claims.
func (s *Server) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(Compress)
	for _, rt := range s.apiRoutes {
		route := api.HandleFunc(rt.path, rt.handler)
		if len(rt.methods) > 0 {
			route.Methods(rt.methods...)
		}
	}

	if s.staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.info("Starting dashboard server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.info("Stopping dashboard server")
	return srv.Shutdown(ctx)
}

// Address returns the listen address once Start was called
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return ""
	}
	return s.srv.Addr
}

// handleHealth reports 200 when healthy and 503 otherwise
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	check := s.health
	s.mu.Unlock()

	healthy, components := true, map[string]string{}
	if check != nil {
		healthy, components = check()
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	WriteJSON(w, code, map[string]interface{}{
		"status":     status,
		"clients":    s.hub.ClientCount(),
		"time":       time.Now().Unix(),
		"components": components,
	})
}

// Broadcast forwards msg to the hub
func (s *Server) Broadcast(msg Message) {
	s.hub.Broadcast(msg)
}

// WriteJSON writes v as a JSON response
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, map[string]string{"error": err.Error()})
}
