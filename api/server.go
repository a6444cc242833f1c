// Package api exposes a DB's runtime state over HTTP: Prometheus metrics
// and a small JSON status endpoint. It is entirely optional — nothing in
// the root mysqlx package depends on it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbbouncer/mysqlx"
	"github.com/dbbouncer/mysqlx/metrics"
)

// Server is a small HTTP server reporting a DB's pool stats and, if a
// Collector was supplied, its Prometheus metrics.
type Server struct {
	db         *mysqlx.DB
	metrics    *metrics.Collector
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a Server for db. m may be nil, in which case /metrics
// serves Prometheus's default registry.
func NewServer(db *mysqlx.DB, m *metrics.Collector) *Server {
	return &Server{db: db, metrics: m, startTime: time.Now()}
}

// Start begins serving on addr in the background. Call Stop to shut down.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] stats server listening on %s", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := s.db.Stats()
	if s.metrics != nil {
		s.metrics.UpdatePoolStats(stats)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"pool": map[string]any{
			"free":        stats.Free,
			"in_flight":   stats.InFlight,
			"unallocated": stats.Unallocated,
			"waiting":     stats.Waiting,
			"max_conns":   stats.MaxConns,
			"exhausted":   stats.Exhausted,
		},
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	conn, err := s.db.Conn(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("acquire failed: %v", err))
		return
	}
	defer conn.Release()
	if err := conn.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("ping failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
