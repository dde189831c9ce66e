package observability

import "context"

// LogSink emits core events as structured log lines. It is the default
// EventSink; deployments with a real analytics pipeline plug their own in.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Emit(ctx context.Context, name string, kv ...any) {
	LoggerFromContext(ctx).With("kind", "event").Info(name, kv...)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, name string, kv ...any) {}
