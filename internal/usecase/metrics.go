package usecase

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	outcomeMatch           = "match"
	outcomeMismatch        = "mismatch"
	outcomeFaceNotDetected = "face_not_detected"
	outcomeInvalidImage    = "invalid_image"
	outcomeCapabilityError = "capability_error"
)

// Metrics holds the Prometheus collectors describing verification decisions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions         *prometheus.CounterVec
	greyZoneOverrides prometheus.Counter
	distance          prometheus.Histogram
	inferenceLatency  prometheus.Histogram
	inferenceInFlight prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facematch_decisions_total",
				Help: "Verification requests by final outcome",
			},
			[]string{"outcome"},
		),
		greyZoneOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "facematch_grey_zone_overrides_total",
			Help: "Pairs the capability accepted but the strict threshold rejected",
		}),
		distance: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facematch_distance",
			Help:    "Cosine distance reported by the capability",
			Buckets: []float64{0.05, 0.1, 0.15, 0.2, 0.25, 0.3, 0.4, 0.5, 0.75, 1, 2},
		}),
		inferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facematch_inference_duration_seconds",
			Help:    "Capability call latency including time waiting for a worker slot",
			Buckets: prometheus.DefBuckets,
		}),
		inferenceInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "facematch_inference_in_flight",
			Help: "Capability calls currently running",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.decisions,
		m.greyZoneOverrides,
		m.distance,
		m.inferenceLatency,
		m.inferenceInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeOutcome(o *Outcome) {
	if m == nil {
		return
	}
	label := outcomeMismatch
	if o.Match {
		label = outcomeMatch
	}
	m.decisions.WithLabelValues(label).Inc()
	m.distance.Observe(o.Distance)
	if o.GreyZone {
		m.greyZoneOverrides.Inc()
	}
}

func (m *Metrics) inferenceStarted() {
	if m == nil {
		return
	}
	m.inferenceInFlight.Inc()
}

func (m *Metrics) inferenceFinished(start time.Time) {
	if m == nil {
		return
	}
	m.inferenceInFlight.Dec()
	m.inferenceLatency.Observe(time.Since(start).Seconds())
}
