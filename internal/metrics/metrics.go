package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/a11ycrawl/internal/progress"
)

const namespace = "a11ycrawl"

// Collector turns progress events into metrics. It implements
// progress.Sink and is safe for concurrent crawls.
type Collector struct {
	registry *prometheus.Registry

	fetches    *prometheus.CounterVec
	pages      *prometheus.CounterVec
	authStates *prometheus.CounterVec
	frontier   prometheus.Gauge
	phases     *prometheus.HistogramVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Page fetches by result.",
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_discovered_total",
			Help:      "Pages added to the result by discovery source.",
		}, []string{"source"}),
		authStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_state_transitions_total",
			Help:      "Authentication state transitions by target state.",
		}, []string{"state"}),
		frontier: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_size",
			Help:      "URLs queued for traversal.",
		}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Duration of crawl phases.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"phase"}),
	}
	c.registry.MustRegister(c.fetches, c.pages, c.authStates, c.frontier, c.phases)
	return c
}

// Emit implements progress.Sink.
func (c *Collector) Emit(e progress.Event) {
	switch e.Kind {
	case progress.KindFetchOK:
		c.fetches.WithLabelValues("ok").Inc()
		c.frontier.Set(float64(e.Counters.Queued))
	case progress.KindFetchError:
		c.fetches.WithLabelValues("error").Inc()
		c.frontier.Set(float64(e.Counters.Queued))
	case progress.KindPageDiscovered:
		c.pages.WithLabelValues(e.Source).Inc()
	case progress.KindAuthState:
		c.authStates.WithLabelValues(e.Message).Inc()
	case progress.KindPhaseEnd:
		c.phases.WithLabelValues(string(e.Phase)).Observe(e.Elapsed.Seconds())
		if e.Phase == progress.PhaseTraversal {
			c.frontier.Set(0)
		}
	}
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server exposes /metrics on an address.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds addr and returns a server ready to Serve.
func Listen(addr string, c *Collector, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve serves until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(s.ln)
	}()
	s.logger.Info("metrics server listening", "addr", s.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		return nil
	}
}
