package x402

import (
	"time"

	"github.com/vitwit/x402split/clients"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/metrics"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		if r != nil {
			x.metrics = r
		}
	}
}

func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		if t > 0 {
			x.timeout = t
		}
	}
}

// WithFeeAbstraction replaces the Kora client built from the config.
func WithFeeAbstraction(f clients.FeeAbstraction) Option {
	return func(x *X402) {
		x.fee = f
	}
}
