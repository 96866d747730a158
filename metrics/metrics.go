// Package metrics exposes the communication core's runtime counters as
// Prometheus metrics (github.com/prometheus/client_golang, the stack
// linkerd2 and datadog-agent both reach for), wired into session.Session
// (and from there its dispatcher and streamer) through the narrow
// Metrics/dispatcherMetrics/streamerMetrics interfaces package session
// defines, so session never imports this package.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry implements session.Metrics (SPEC_FULL.md §4.15).
type Registry struct {
	pendingChars  prometheus.Gauge
	inflight      prometheus.Gauge
	acksTotal     prometheus.Counter
	errorsTotal   prometheus.Counter
	alarmsTotal   prometheus.Counter
	spuriousTotal prometheus.Counter
	cmdLatency    prometheus.Histogram
	pollRTT       prometheus.Histogram

	reg *prometheus.Registry
}

// NewRegistry builds a fresh, unregistered-with-default metric set so
// tests can construct as many independent Registries as they like without
// the "duplicate metrics collector registration" panic that sharing
// prometheus.DefaultRegisterer across instances would cause.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		pendingChars: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gcodekit_pending_chars",
			Help: "Bytes currently counted against the controller's receive buffer.",
		}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gcodekit_inflight_commands",
			Help: "Commands sent but not yet acked, errored, or timed out.",
		}),
		acksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gcodekit_acks_total",
			Help: "Total commands completed with an ok response.",
		}),
		errorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gcodekit_errors_total",
			Help: "Total commands completed with an error response.",
		}),
		alarmsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gcodekit_alarms_total",
			Help: "Total ALARM transitions observed.",
		}),
		spuriousTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gcodekit_spurious_acks_total",
			Help: "Acks/errors received with an empty in-flight window.",
		}),
		cmdLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gcodekit_command_latency_seconds",
			Help:    "Time from a command's Sent transition to its terminal response.",
			Buckets: prometheus.DefBuckets,
		}),
		pollRTT: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gcodekit_poll_round_trip_seconds",
			Help:    "Time from a status-report request to its matching status record.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

func (r *Registry) SetPendingChars(n int) { r.pendingChars.Set(float64(n)) }
func (r *Registry) SetInFlight(n int)     { r.inflight.Set(float64(n)) }
func (r *Registry) IncAcks()              { r.acksTotal.Inc() }
func (r *Registry) IncErrors()            { r.errorsTotal.Inc() }
func (r *Registry) IncAlarms()            { r.alarmsTotal.Inc() }
func (r *Registry) IncSpuriousAcks()      { r.spuriousTotal.Inc() }

func (r *Registry) ObserveCommandLatency(d time.Duration) { r.cmdLatency.Observe(d.Seconds()) }
func (r *Registry) ObservePollRoundTrip(d time.Duration)  { r.pollRTT.Observe(d.Seconds()) }

// Serve starts the optional /metrics HTTP listener (config.Metrics.Listen)
// and blocks until ctx is cancelled, then shuts the server down. A caller
// that never wants a listener simply never calls Serve.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
