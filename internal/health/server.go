package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itsneelabh/gcp-monitor/pkg/core"
	"github.com/itsneelabh/gcp-monitor/pkg/logger"
	"github.com/itsneelabh/gcp-monitor/pkg/orchestration"
)

// StatusProvider exposes the outcome of the latest execution.
type StatusProvider interface {
	LastExecution() (orchestration.ExecutionRecord, bool)
}

// Server serves the liveness endpoint and a status document.
type Server struct {
	config   core.HTTPConfig
	status   StatusProvider
	logger   logger.Logger
	server   *http.Server
	listener net.Listener
}

// NewServer creates a health server. status may be nil.
func NewServer(config core.HTTPConfig, status StatusProvider, log logger.Logger) *Server {
	if log == nil {
		log = &logger.NoOpLogger{}
	}
	if config.HealthCheckPath == "" {
		config.HealthCheckPath = "/health"
	}
	s := &Server{config: config, status: status, logger: log}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.HealthCheckPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.HealthCheckPath, s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	var handler http.Handler = mux
	handler = recoveryMiddleware(s.logger)(handler)
	return otelhttp.NewHandler(handler, "health")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Status        string                         `json:"status"`
	LastExecution *orchestration.ExecutionRecord `json:"last_execution,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: "ok"}
	if s.status != nil {
		if last, ok := s.status.LastExecution(); ok {
			resp.LastExecution = &last
			if last.Error != "" {
				resp.Status = "degraded"
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Failed to encode status", map[string]interface{}{"error": err.Error()})
	}
}

// Listen binds the configured port. It is called by Start when needed and
// lets callers learn the address before serving.
func (s *Server) Listen() (net.Addr, error) {
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return nil, fmt.Errorf("health server listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}

	s.logger.Info("Starting health server", map[string]interface{}{
		"address": addr.String(),
		"path":    s.config.HealthCheckPath,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	s.logger.Info("Shutting down health server")
	return s.server.Shutdown(shutdownCtx)
}

func recoveryMiddleware(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("Panic in HTTP handler", map[string]interface{}{
						"path":  r.URL.Path,
						"panic": fmt.Sprint(rec),
					})
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
