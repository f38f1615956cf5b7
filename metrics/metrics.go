// Package metrics exposes Prometheus instrumentation for the provisioning
// service: saga outcome counters, key generation latency, and a standalone
// metrics HTTP server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_saga_total",
		Help: "Provisioning saga runs by terminal outcome.",
	}, []string{"outcome"})

	sagaCompensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioning_compensations_total",
		Help: "Compensation executions by saga step.",
	}, []string{"step"})

	keygenDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keygen_duration_seconds",
		Help:    "Wall time of keypair generation.",
		Buckets: prometheus.DefBuckets,
	})

	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Messages handed to the notification transport, by result.",
	}, []string{"result"})
)

// RecordSagaOutcome counts a terminal saga outcome ("provisioned", "failed").
func RecordSagaOutcome(outcome string) {
	sagaOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCompensation counts a compensation execution for a saga step.
func RecordCompensation(step string) {
	sagaCompensations.WithLabelValues(step).Inc()
}

// ObserveKeygenDuration records the wall time of one keypair generation.
func ObserveKeygenDuration(d time.Duration) {
	keygenDuration.Observe(d.Seconds())
}

// RecordNotification counts a notification attempt ("ok" or "error").
func RecordNotification(result string) {
	notificationsSent.WithLabelValues(result).Inc()
}

// MetricsServer serves the Prometheus scrape endpoint on its own listener,
// keeping it off the public API address.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(serviceName, addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
