package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	labels := map[string]string{"network": "solana-devnet", "outcome": OutcomeSuccess}
	rec.IncCounter(EventSettle, labels)
	rec.IncCounter(EventSettle, labels)
	rec.IncCounter(EventVerify, map[string]string{"network": "solana-devnet", "outcome": OutcomeInvalid})

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.events.WithLabelValues(EventSettle, "solana-devnet", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.events.WithLabelValues(EventVerify, "solana-devnet", OutcomeInvalid)))
}

func TestPrometheusRecorderLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	rec.ObserveLatency(EventVerify, 20*time.Millisecond, map[string]string{"network": "solana-devnet"})

	count, err := testutil.GatherAndCount(reg, "x402split_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPrometheusRecorderDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}

func TestNoopRecorder(t *testing.T) {
	var rec Recorder = NoopRecorder{}
	rec.IncCounter(EventSettle, nil)
	rec.ObserveLatency(EventSettle, time.Second, nil)
}
