package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/steward/config"
	"github.com/c360studio/steward/store"
)

// Mountable is anything that registers routes under a prefix.
type Mountable interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

// Server is the governance API server. Components mount their routes under
// /api/v1; the server carries the shared middleware stack, health, metrics
// and the live policy endpoints.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	store      *store.Store
	policy     *config.PolicyStore
	registry   *prometheus.Registry
	logger     *slog.Logger
}

// Prefix is the API route prefix components mount under.
const Prefix = "/api/v1"

// NewServer assembles the API server.
func NewServer(cfg config.HTTPConfig, st *store.Store, policy *config.PolicyStore,
	registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	mux := http.NewServeMux()
	s := &Server{
		mux:      mux,
		store:    st,
		policy:   policy,
		registry: registry,
		logger:   logger,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.recover(s.logRequests(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET "+Prefix+"/policy", s.handleGetPolicy)
	mux.HandleFunc("PATCH "+Prefix+"/policy", s.handlePatchPolicy)
	mux.HandleFunc("POST "+Prefix+"/policy/reset", s.handleResetPolicy)
	mux.HandleFunc("GET "+Prefix+"/errors", s.handleErrorLog)
	return s
}

// Registry exposes the metrics registry so components can register
// collectors before Start.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// Mount registers a component's routes under the API prefix.
func (s *Server) Mount(c Mountable) {
	c.RegisterHTTPHandlers(Prefix, s.mux)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// statusWriter captures the response status for logging and error capture.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush passes through so SSE streams keep working behind the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// the SSE stream uses to clear the write deadline.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// logRequests logs each request and persists server-side failures to the
// error log bucket.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		if sw.status >= 500 {
			s.logger.Error("Request failed", "method", r.Method, "url", r.URL.Path,
				"status", sw.status, "elapsed", elapsed)
			if s.store != nil {
				_ = s.store.AppendErrorLog(r.Context(), &store.ErrorLogEntry{
					Method: r.Method,
					URL:    r.URL.String(),
					Status: sw.status,
				})
			}
			return
		}
		s.logger.Debug("Request", "method", r.Method, "url", r.URL.Path,
			"status", sw.status, "elapsed", elapsed)
	})
}

// recover turns handler panics into 500s instead of dropped connections.
func (s *Server) recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panic", "method", r.Method, "url", r.URL.Path, "panic", rec)
				WriteError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.policy.Get())
}

// handlePatchPolicy replaces the live policy. The request body is the full
// policy document; validation failures keep the previous snapshot.
func (s *Server) handlePatchPolicy(w http.ResponseWriter, r *http.Request) {
	current := s.policy.Get()
	if err := DecodeJSON(r, &current); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.policy.Set(current); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.logger.Info("Policy updated via API")
	WriteJSON(w, http.StatusOK, s.policy.Get())
}

func (s *Server) handleResetPolicy(w http.ResponseWriter, r *http.Request) {
	p := s.policy.Reset()
	s.logger.Info("Policy reset to defaults")
	WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleErrorLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := s.store.ListErrorLog(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"errors": entries, "count": len(entries)})
}
