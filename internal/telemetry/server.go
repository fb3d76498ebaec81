package telemetry

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the iron thread is alive and not permanently
// failed; Ready additionally reports whether it has completed startup.
type HealthFunc func() (healthy bool, ready bool)

// Server is the admin HTTP surface: /metrics, /health, /ready. The metrics
// exporter and its transport are named out of scope in spec §1 as an
// external collaborator; only this minimal, real implementation of the
// interface is carried, per the ambient-stack rule.
type Server struct {
	http *http.Server
	lg   *slog.Logger
}

// NewServer builds the admin mux. addr may be empty to disable (caller
// should skip calling Serve in that case).
func NewServer(addr string, m *Metrics, health HealthFunc, lg *slog.Logger) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		healthy, _ := health()
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.HandleFunc("/ready", func(w http.ResponseWriter, req *http.Request) {
		_, ready := health()
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	var h http.Handler = r
	if lg != nil {
		h = handlers.CombinedLoggingHandler(logWriter{lg}, r)
	}

	return &Server{
		http: &http.Server{Addr: addr, Handler: h},
		lg:   lg,
	}
}

// Serve runs the HTTP server until it errors or is shut down.
func (s *Server) Serve() error {
	if s.lg != nil {
		s.lg.Info("telemetry server starting", "addr", s.http.Addr)
	}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// logWriter adapts slog.Logger to io.Writer for gorilla/handlers' access
// log output.
type logWriter struct{ lg *slog.Logger }

func (w logWriter) Write(p []byte) (int, error) {
	w.lg.Info(string(p))
	return len(p), nil
}
