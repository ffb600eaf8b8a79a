// Package sink writes extracted field sets to a time-series backend.
//
// Every backend stores one point per data message: the series is
// identified by the device id, the fields are the values extracted by
// the router, and the timestamp is the receive time in UTC. Failures
// are returned to the caller, which logs them; nothing is retried.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/discovery"
)

// Sink is a time-series backend.
type Sink interface {
	// Store writes one field set for device id at ts.
	Store(ctx context.Context, id string, fields discovery.Fields, ts time.Time) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases the backend connection.
	Close() error
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.SinkConfig, logger *slog.Logger) (Sink, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	switch cfg.Backend {
	case config.SinkInfluxDB:
		return NewInflux(cfg.InfluxDB, cfg.Measurement, timeout, logger), nil
	case config.SinkSQLite:
		s, err := NewSQLite(cfg.SQLite.Path, cfg.Measurement, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.SinkLog:
		return NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown sink backend %q", cfg.Backend)
	}
}
