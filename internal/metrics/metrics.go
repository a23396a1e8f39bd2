// Package metrics holds the Prometheus collectors of the incoming pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "courier"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionAttempts prometheus.Counter
	ConnectionFailures prometheus.Counter
	DrainedTransitions *prometheus.CounterVec
	Envelopes          *prometheus.CounterVec
	Jobs               *prometheus.CounterVec
	RetryReceipts      *prometheus.CounterVec
	PendingRetries     prometheus.Gauge
}

// New builds the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectionAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observer",
			Name:      "connection_attempts_total",
			Help:      "Websocket connection attempts made by the observer.",
		}),
		ConnectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observer",
			Name:      "connection_failures_total",
			Help:      "Retrieval loops that ended in an error.",
		}),
		DrainedTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "observer",
			Name:      "drained_total",
			Help:      "Times the network or decryption backlog became empty.",
		}, []string{"stage"}),
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "envelopes_total",
			Help:      "Envelopes processed, by resulting message state.",
		}, []string{"state"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Job runs, by kind and result.",
		}, []string{"kind", "result"}),
		RetryReceipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "receipts_total",
			Help:      "Retry receipts, by content hint and outcome.",
		}, []string{"hint", "outcome"}),
		PendingRetries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "pending",
			Help:      "Pending retry receipts waiting for a resend.",
		}),
	}
	m.registry.MustRegister(
		m.ConnectionAttempts,
		m.ConnectionFailures,
		m.DrainedTransitions,
		m.Envelopes,
		m.Jobs,
		m.RetryReceipts,
		m.PendingRetries,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ConnectionAttempt counts one connection attempt.
func (m *Metrics) ConnectionAttempt() {
	if m != nil {
		m.ConnectionAttempts.Inc()
	}
}

// ConnectionFailure counts one failed retrieval loop.
func (m *Metrics) ConnectionFailure() {
	if m != nil {
		m.ConnectionFailures.Inc()
	}
}

// Drained counts a drained milestone. stage is "network" or "decryption".
func (m *Metrics) Drained(stage string) {
	if m != nil {
		m.DrainedTransitions.WithLabelValues(stage).Inc()
	}
}

// Envelope counts one processed envelope.
func (m *Metrics) Envelope(state string) {
	if m != nil {
		m.Envelopes.WithLabelValues(state).Inc()
	}
}

// Job counts one job run.
func (m *Metrics) Job(kind, result string) {
	if m != nil {
		m.Jobs.WithLabelValues(kind, result).Inc()
	}
}

// RetryReceipt counts one retry receipt decision.
func (m *Metrics) RetryReceipt(hint, outcome string) {
	if m != nil {
		m.RetryReceipts.WithLabelValues(hint, outcome).Inc()
	}
}

// SetPending records the number of pending retry receipts.
func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingRetries.Set(float64(n))
	}
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr
// disables the endpoint.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if m == nil || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"addr":     addr,
	}).Info("Serving metrics")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
