// Package logger is the structured logging surface used across the
// facilitator, gateway and client. Fields are passed as a map so callers
// do not depend on the backend.
package logger

type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

// OrNoop returns l, or a NoopLogger when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// With returns a Logger that adds fields to every entry. Per-call fields
// win over the fixed ones.
func With(l Logger, fields map[string]any) Logger {
	return &withLogger{base: OrNoop(l), fields: fields}
}

type withLogger struct {
	base   Logger
	fields map[string]any
}

func (w *withLogger) merge(fields map[string]any) map[string]any {
	out := make(map[string]any, len(w.fields)+len(fields))
	for k, v := range w.fields {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (w *withLogger) Debug(msg string, fields map[string]any) { w.base.Debug(msg, w.merge(fields)) }
func (w *withLogger) Info(msg string, fields map[string]any)  { w.base.Info(msg, w.merge(fields)) }
func (w *withLogger) Warn(msg string, fields map[string]any)  { w.base.Warn(msg, w.merge(fields)) }
func (w *withLogger) Error(msg string, fields map[string]any) { w.base.Error(msg, w.merge(fields)) }
