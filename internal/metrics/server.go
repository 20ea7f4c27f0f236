package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vvka-141/mailq/pkg/mailq"
)

// DefaultStatsInterval is how often Server polls queue stats.
const DefaultStatsInterval = 30 * time.Second

const shutdownTimeout = 5 * time.Second

// StatsSource is the part of the store the stats poller needs.
type StatsSource interface {
	Stats(ctx context.Context) (mailq.QueueStats, error)
}

// Server serves /metrics and keeps the per-state gauges fresh.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	recorder *Recorder
	stats    StatsSource
	interval time.Duration
	logger   mailq.Logger
}

// NewServer creates a metrics server listening on addr. stats may be nil,
// in which case the per-state gauges are not published.
func NewServer(addr string, gatherer prometheus.Gatherer, recorder *Recorder, stats StatsSource, logger mailq.Logger) *Server {
	if gatherer == nil {
		panic("gatherer cannot be nil")
	}
	if recorder == nil {
		panic("recorder cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Server{
		addr:     addr,
		gatherer: gatherer,
		recorder: recorder,
		stats:    stats,
		interval: DefaultStatsInterval,
		logger:   logger,
	}
}

// WithStatsInterval overrides DefaultStatsInterval.
func (s *Server) WithStatsInterval(d time.Duration) *Server {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Handler returns the /metrics handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.stats != nil {
		go s.pollStats(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Metrics server listening on %s", l.Addr())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Metrics server shutdown failed: %v", err)
		return err
	}
	return nil
}

func (s *Server) pollStats(ctx context.Context) {
	s.collectStats(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectStats(ctx)
		}
	}
}

func (s *Server) collectStats(ctx context.Context) {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.recorder.StatsErrors.Inc()
			s.logger.Warn("Failed to collect queue stats for metrics: %v", err)
		}
		return
	}
	s.recorder.ObserveStats(stats)
}
