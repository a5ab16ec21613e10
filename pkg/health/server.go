// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the agent over HTTP:
//
//	GET /health   liveness plus a one-line hook summary
//	GET /ready    503 until the agent has finished starting
//	GET /status   the hook manager's full Status
//	GET /metrics  Prometheus text exposition
type Server struct {
	addr    string
	version string
	stats   *Stats
	logger  *zap.Logger
	ready   atomic.Bool

	mu    sync.Mutex
	http  *http.Server
	bound net.Addr
	done  chan struct{}
}

// NewServer returns a Server that will listen on addr once started.
func NewServer(addr, version string, stats *Stats, logger *zap.Logger) *Server {
	return &Server{addr: addr, version: version, stats: stats, logger: logger}
}

// SetReady flips the /ready answer.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Addr is the address actually bound, which differs from the configured one
// for ":0". Empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return ""
	}
	return s.bound.String()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return mux
}

// Start binds the listener synchronously, so a port conflict is returned
// here, then serves in the background. Requests inherit ctx.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http != nil {
		return errors.New("health server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server stopped unexpectedly", zap.Error(err))
		}
	}()

	s.http, s.bound, s.done = srv, ln.Addr(), done
	s.logger.Info("health server listening", zap.Stringer("addr", s.bound))
	return nil
}

// Stop shuts the server down and waits for the serve loop to exit. Calling
// it on a server that never started, or twice, is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv, done := s.http, s.done
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	<-done
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Engine      string `json:"engine"`
	HooksActive bool   `json:"hooks_active"`
	RefCount    int    `json:"ref_count"`
}

// handleHealth is "degraded" when references are held but the engine left
// the hooks uninstalled. The process itself is still live, so it stays 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.stats.source.Status()
	status := "healthy"
	if st.RefCount > 0 && !st.Active {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      status,
		Version:     s.version,
		Uptime:      s.stats.Uptime().Truncate(time.Second).String(),
		Engine:      st.Engine,
		HooksActive: st.Active,
		RefCount:    st.RefCount,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.source.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if _, err := w.Write([]byte(s.stats.PrometheusMetrics())); err != nil {
		s.logger.Debug("write metrics", zap.Error(err))
	}
}
