package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/discovery"
)

// LogSink stores nothing and logs every field set. Useful for checking
// discovery and extraction against a live broker without a database.
type LogSink struct {
	logger *slog.Logger
}

// NewLog creates a log-only sink.
func NewLog(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Store logs the field set.
func (s *LogSink) Store(_ context.Context, id string, fields discovery.Fields, ts time.Time) error {
	attrs := []any{
		"backend", config.SinkLog,
		"dry_run", true,
		"id", id,
		"fields", fields.Names(),
		"time", ts.UTC().Format(time.RFC3339),
	}
	for _, name := range fields.Names() {
		attrs = append(attrs, name, fields[name])
	}
	s.logger.Info("sink stored values", attrs...)
	return nil
}

// Ping always succeeds.
func (s *LogSink) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *LogSink) Close() error { return nil }
