package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "x402split"

// PrometheusRecorder exports events as x402split_events_total and
// durations as x402split_operation_duration_seconds.
type PrometheusRecorder struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the collectors with reg, or with the
// default registerer when reg is nil. Registering twice with the same
// registerer fails.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Payment events by outcome.",
		},
		[]string{"event", "network", "outcome"},
	)

	// Signer and ledger round trips sit between a few ms and a few s.
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of facilitator operations and HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"operation", "network", "outcome"},
	)

	for _, c := range []prometheus.Collector{events, duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return &PrometheusRecorder{events: events, duration: duration}, nil
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.events.WithLabelValues(name, labels["network"], labels["outcome"]).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.duration.WithLabelValues(name, labels["network"], labels["outcome"]).Observe(d.Seconds())
}
