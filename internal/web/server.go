// Package web serves live fix documents over websocket and plain HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"beacon-locator/internal/logging"
)

type Server struct {
	Hub *Hub

	metrics http.Handler
	srv     *http.Server
	log     *slog.Logger
}

// NewServer returns a server. metrics may be nil to omit /metrics.
func NewServer(hub *Hub, metrics http.Handler, log *slog.Logger) *Server {
	return &Server{Hub: hub, metrics: metrics, log: logging.OrDiscard(log)}
}

// Handler returns the routes:
//
//	/ws       websocket stream of fix documents
//	/fixes    latest fix document
//	/metrics  Prometheus metrics
//	/healthz  liveness
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})
	mux.HandleFunc("/fixes", func(w http.ResponseWriter, r *http.Request) {
		latest := s.Hub.Latest()
		if latest == nil {
			latest = []byte(`{"chairs":[]}`)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(latest)
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start listens on addr and serves until ctx ends. The hub runs alongside.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.Hub.Run(ctx)

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}
