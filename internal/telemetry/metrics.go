package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pmbook"

func newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	prometheus.MustRegister(c)
	return c
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	prometheus.MustRegister(c)
	return c
}

func newGauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	prometheus.MustRegister(g)
	return g
}

// Metrics is the global metrics registry.
var Metrics = struct {
	Snapshots      prometheus.Counter
	DeltasApplied  prometheus.Counter
	DeltasDropped  *prometheus.CounterVec
	StaleEvents    prometheus.Counter
	Rollovers      prometheus.Counter
	ResolveErrors  *prometheus.CounterVec
	StreamStatus   *prometheus.CounterVec
	SessionState   prometheus.Gauge
	BookLevels     prometheus.Gauge
	ResolveSeconds prometheus.Histogram
}{
	Snapshots:     newCounter("book_snapshots_total", "Order book snapshots applied."),
	DeltasApplied: newCounter("book_deltas_applied_total", "Price level changes applied."),
	DeltasDropped: newCounterVec("book_deltas_dropped_total", "Price level changes dropped, by reason.", []string{"reason"}),
	StaleEvents:   newCounter("stale_events_total", "Stream events dropped because their subscription was superseded."),
	Rollovers:     newCounter("rollovers_total", "Window rollovers performed."),
	ResolveErrors: newCounterVec("resolve_errors_total", "Market resolution failures, by kind.", []string{"kind"}),
	StreamStatus:  newCounterVec("stream_status_total", "Stream status transitions, by status.", []string{"status"}),
	SessionState:  newGauge("session_state", "Current session state as its numeric code."),
	BookLevels:    newGauge("book_levels", "Price levels currently held across both books."),
	ResolveSeconds: func() prometheus.Histogram {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Latency of market metadata resolution.",
			Buckets:   prometheus.DefBuckets,
		})
		prometheus.MustRegister(h)
		return h
	}(),
}

// ServeMetrics exposes /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
