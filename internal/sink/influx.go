package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/discovery"
	"github.com/nugget/hassflux/internal/httpkit"
)

// idTag is the tag key holding the device id on every point.
const idTag = "Id"

// Writes refused at dial time are retried this often before the point
// is given up.
const (
	writeRetries    = 2
	writeRetryDelay = 500 * time.Millisecond
)

// InfluxSink writes points with the blocking write API, one HTTP
// request per data message.
type InfluxSink struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewInflux creates an InfluxDB sink. No connection is made until the
// first write or ping.
func NewInflux(cfg config.InfluxDBConfig, measurement string, timeout time.Duration, logger *slog.Logger) *InfluxSink {
	httpOpts := []httpkit.ClientOption{
		httpkit.WithTimeout(timeout),
		httpkit.WithRetry(writeRetries, writeRetryDelay),
		httpkit.WithLogger(logger),
	}
	if cfg.InsecureSkipVerify {
		httpOpts = append(httpOpts, httpkit.WithTLSInsecureSkipVerify())
	}
	opts := influxdb2.DefaultOptions().SetHTTPClient(httpkit.NewClient(httpOpts...))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.AuthToken(), opts)

	return &InfluxSink{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		timeout:     timeout,
		logger:      logger,
	}
}

// Store writes fields as one point tagged with id.
func (s *InfluxSink) Store(ctx context.Context, id string, fields discovery.Fields, ts time.Time) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	p := influxdb2.NewPoint(s.measurement,
		map[string]string{idTag: id},
		map[string]any(fields),
		ts.UTC(),
	)
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influxdb write %s: %w", id, err)
	}

	s.logger.Info("sink stored values",
		"backend", config.SinkInfluxDB, "id", id, "fields", fields.Names())
	return nil
}

// Ping checks the InfluxDB /ping endpoint.
func (s *InfluxSink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb ping: server not ready")
	}
	return nil
}

// Close releases idle HTTP connections.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
