package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/metrics"
)

const (
	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key of the request id.
	RequestIDKey = "request_id"
)

// RequestID tags every request with an id, keeping one supplied by the
// caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs and counts every request after it is served.
func RequestLogger(log logger.Logger, rec metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := map[string]any{
			"method":     c.Request.Method,
			"path":       route,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString(RequestIDKey),
		}
		if status >= 500 {
			log.Warn("request served", fields)
		} else {
			log.Info("request served", fields)
		}

		labels := map[string]string{"outcome": strconv.Itoa(status)}
		rec.IncCounter(metrics.EventHTTPRequest, labels)
		rec.ObserveLatency(route, time.Since(start), labels)
	}
}
