// Package api exposes the actor manager over a small HTTP surface.
// Every tenant operation goes through a single invoke endpoint; the
// per-tenant serialization happens in the actor, not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tenantd/tenantd/internal/actor"
	"github.com/tenantd/tenantd/internal/link"
	"github.com/tenantd/tenantd/internal/lock"
	"github.com/tenantd/tenantd/internal/observability"
	"github.com/tenantd/tenantd/internal/queue"
)

// Server is the HTTP front of the actor manager.
type Server struct {
	addr    string
	manager *actor.Manager
	log     *observability.Logger
	srv     *http.Server
	started time.Time

	mu       sync.Mutex
	listener net.Listener
}

// invokeRequest is the JSON body for POST /v1/{tenant}/invoke.
type invokeRequest struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// invokeResponse wraps a successful invocation result.
type invokeResponse struct {
	Result any `json:"result"`
}

// errorResponse is the JSON body for any failed request.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// healthResponse is the JSON body for GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime"`
	Tenants int    `json:"tenants"`
}

// NewServer creates the HTTP shim. addr may be ":0" to pick a free port.
func NewServer(addr string, manager *actor.Manager, log *observability.Logger) *Server {
	if log == nil {
		log = observability.NewLogger("api", nil)
	}
	return &Server{
		addr:    addr,
		manager: manager,
		log:     log,
	}
}

// Start launches the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/tenants", s.handleTenants)
	mux.HandleFunc("POST /v1/{tenant}/invoke", s.handleInvoke)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("api: listen: %w", err)
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("api listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).String(),
		Tenants: s.manager.Count(),
	})
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tenants": s.manager.Tenants()})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "method is required")
		return
	}

	result, err := s.manager.Invoke(r.Context(), tenant, req.Method, req.Args)
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, invokeResponse{Result: result})
}

// classify maps domain errors onto HTTP status and stable error codes.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, actor.ErrInvalidMethod):
		return http.StatusNotFound, "invalid_method"
	case errors.Is(err, actor.ErrActorClosed), errors.Is(err, actor.ErrManagerClosed):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, lock.ErrTokenMismatch):
		return http.StatusConflict, "token_mismatch"
	case errors.Is(err, queue.ErrStaleCompletion):
		return http.StatusConflict, "stale_completion"
	case errors.Is(err, link.ErrSlugTaken):
		return http.StatusConflict, "slug_taken"
	case errors.Is(err, link.ErrSlugGenerationExhausted):
		return http.StatusServiceUnavailable, "slug_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "cancelled"
	default:
		return http.StatusBadRequest, "invalid_request"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// Addr returns the bound listener address, or the configured address if
// the server has not started yet.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
