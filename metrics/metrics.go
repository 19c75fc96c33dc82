// Package metrics records facilitator and gateway events.
package metrics

import "time"

// Event and operation names.
const (
	EventVerify             = "verify"
	EventSettle             = "settle"
	EventPaymentInstruction = "payment_instruction"
	EventSupported          = "supported"
	EventPaymentRequired    = "payment_required"
	EventPaymentAccepted    = "payment_accepted"
	EventHTTPRequest        = "http_request"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Recorder receives counters and durations. Labels not used by an
// implementation are ignored.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder discards everything.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
