// Package metrics records upstream request and pipeline metrics for one changelog run.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "deployment_changelog"

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder owns a private registry so that concurrent runs (and tests) never share collectors
type Recorder struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	stageItems       *prometheus.GaugeVec
}

// NewRecorder creates a recorder with all collectors registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP requests by service, method and outcome.",
		}, []string{"service", "method", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
		stageItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_items",
			Help:      "Number of distinct items produced by each pipeline stage.",
		}, []string{"stage"}),
	}
	r.registry.MustRegister(r.upstreamRequests, r.upstreamDuration, r.stageItems)
	return r
}

// ObserveRequest records one upstream round trip. A nil recorder is a no-op.
func (r *Recorder) ObserveRequest(service, method string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	r.upstreamRequests.WithLabelValues(service, method, outcome).Inc()
	r.upstreamDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// SetStageItems records how many items a pipeline stage produced
func (r *Recorder) SetStageItems(stage string, count int) {
	if r == nil {
		return
	}
	r.stageItems.WithLabelValues(stage).Set(float64(count))
}

// Gatherer exposes the underlying registry
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes all metrics in the node_exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
