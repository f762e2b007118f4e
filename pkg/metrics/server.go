package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the /metrics Prometheus scrape endpoint. It implements the
// teacher's controlplane/runtime.AuxiliaryServer shape (Start/Stop/Port),
// generalized from that package's API/metrics auxiliary-HTTP-server
// pattern to the one metrics endpoint ipcpd exposes.
type Server struct {
	port  int
	srv   *http.Server
	errCh chan error
}

// NewServer builds a metrics Server serving reg's collectors on port.
func NewServer(reg *prometheus.Registry, port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{
		port:  port,
		srv:   &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux},
		errCh: make(chan error, 1),
	}
}

// Start begins serving in the background; a listen error surfaces from the
// next Stop call.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.errCh <- s.srv.ListenAndServe()
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	select {
	case err := <-s.errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	default:
	}
	return nil
}

// Port reports the configured listen port.
func (s *Server) Port() int {
	return s.port
}
