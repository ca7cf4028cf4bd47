// Package server exposes the worker's HTTP surface: liveness, readiness,
// Prometheus metrics, the completion webhook, and a partition debug
// endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanSScrobot/ardent-ms-call-retell/fleet"
	"github.com/IvanSScrobot/ardent-ms-call-retell/partition"
)

// Pinger is the readiness slice of the backlog store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP surface. Create one with New and run it with Start.
type Server struct {
	addr    string
	store   Pinger
	fleet   *fleet.Tracker
	logger  *slog.Logger
	mux     *http.ServeMux
	httpSrv *http.Server
	metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithWebhook mounts the completion webhook handler at path.
func WithWebhook(path string, h http.Handler) Option {
	return func(s *Server) { s.mux.Handle(path, h) }
}

// WithMetricsRegistry serves the given registry at /metrics instead of the
// default one.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
}

// New creates a Server listening on addr. The store is probed on /readyz;
// the fleet tracker backs /debug/partition.
func New(addr string, store Pinger, ft *fleet.Tracker, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		store:  store,
		fleet:  ft,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/readyz", s.handleReadyz)
	s.mux.HandleFunc("/debug/partition", s.handlePartition)
	for _, o := range opts {
		o(s)
	}
	// Registered after the options so a custom registry replaces the
	// default handler instead of colliding with it on the mux.
	if s.metrics == nil {
		s.metrics = promhttp.Handler()
	}
	s.mux.Handle("/metrics", s.metrics)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called. It blocks; run it in a goroutine.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready only when the backlog store answers a ping
// and a shard position is known. An unready pod is removed from the
// service but keeps its pod identity, so the partition layout is not
// disturbed.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness: store ping failed", slog.String("error", err.Error()))
		http.Error(w, "backlog store unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := s.fleet.Info(ctx); err != nil {
		s.logger.Warn("readiness: no shard position", slog.String("error", err.Error()))
		http.Error(w, "shard position unknown", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handlePartition answers which fleet member owns a given partition key,
// for operators chasing a task that nobody seems to be dialing.
func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	keyParam := r.URL.Query().Get("key")
	key, err := strconv.ParseInt(keyParam, 10, 64)
	if err != nil {
		http.Error(w, "key must be an integer", http.StatusBadRequest)
		return
	}

	info, err := s.fleet.Info(r.Context())
	if err != nil {
		http.Error(w, "shard position unknown", http.StatusServiceUnavailable)
		return
	}

	resp := struct {
		Key        int64 `json:"key"`
		OwnerIndex int   `json:"owner_index"`
		Total      int   `json:"total"`
		OwnedHere  bool  `json:"owned_here"`
		Stale      bool  `json:"stale,omitempty"`
	}{
		Key:        key,
		OwnerIndex: partition.Owner(key, info.Total),
		Total:      info.Total,
		OwnedHere:  partition.Assigned(key, info.Index, info.Total),
		Stale:      info.Stale,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
