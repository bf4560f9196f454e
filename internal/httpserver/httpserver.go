// Package httpserver exposes the orchestrator's operational HTTP surface:
// the Prometheus metrics endpoint and a liveness probe.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes basic request info using structured logging.
func RequestLogger(log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("incoming request")
			next.ServeHTTP(w, r)
		})
	}
}

// NewRouter configures the operational HTTP routes.
func NewRouter(log *logrus.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(RequestLogger(log))

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)

	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Server wraps the operational HTTP listener.
type Server struct {
	srv *http.Server
	log *logrus.Logger
}

// New creates a Server listening on addr.
func New(addr string, log *logrus.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(log),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start runs the listener in a background goroutine. Listen errors other
// than a clean shutdown are logged, not fatal: a busy metrics port reduces
// observability, it does not stop the orchestrator (§7).
func (s *Server) Start() {
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Warn("metrics server stopped")
		}
	}()
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
