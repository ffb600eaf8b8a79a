package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nugget/hassflux/internal/buildinfo"
	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/discovery"
	"github.com/nugget/hassflux/internal/sink"
)

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// configTopics returns the configured discovery filters, or the
// defaults for the discovery prefix.
func configTopics(cfg *config.Config) []string {
	if len(cfg.MQTT.ConfigurationTopics) > 0 {
		return cfg.MQTT.ConfigurationTopics
	}
	return discovery.ConfigPatterns(cfg.MQTT.DiscoveryPrefix)
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runCheckConfig loads and validates the configuration and prints the
// effective settings. Secrets are not printed.
func runCheckConfig(w io.Writer, explicit string) error {
	cfg, cfgPath, err := loadConfig(explicit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "config %s is valid\n", cfgPath)
	fmt.Fprintf(w, "  %-18s %s\n", "broker:", cfg.MQTT.Broker)
	fmt.Fprintf(w, "  %-18s %s\n", "discovery prefix:", cfg.MQTT.DiscoveryPrefix)
	for _, t := range configTopics(cfg) {
		fmt.Fprintf(w, "  %-18s %s\n", "config topic:", t)
	}
	fmt.Fprintf(w, "  %-18s %d\n", "state qos:", cfg.MQTT.QoS)
	fmt.Fprintf(w, "  %-18s %s\n", "sink:", cfg.Sink.Backend)
	switch cfg.Sink.Backend {
	case config.SinkInfluxDB:
		fmt.Fprintf(w, "  %-18s %s\n", "influxdb url:", cfg.Sink.InfluxDB.URL)
		fmt.Fprintf(w, "  %-18s %s\n", "influxdb bucket:", cfg.Sink.InfluxDB.Bucket)
	case config.SinkSQLite:
		fmt.Fprintf(w, "  %-18s %s\n", "sqlite path:", cfg.Sink.SQLite.Path)
	}
	fmt.Fprintf(w, "  %-18s %s\n", "measurement:", cfg.Sink.Measurement)
	if cfg.Listen.Port > 0 {
		fmt.Fprintf(w, "  %-18s %s:%d\n", "listen:", cfg.Listen.Address, cfg.Listen.Port)
	}
	return nil
}

// runLatest prints the latest stored value of every field of deviceID.
// Only the SQLite sink can be read back.
func runLatest(ctx context.Context, w io.Writer, explicit, deviceID, outputFmt string) error {
	cfg, _, err := loadConfig(explicit)
	if err != nil {
		return err
	}
	if cfg.Sink.Backend != config.SinkSQLite {
		return fmt.Errorf("latest: sink backend %q cannot be queried (only %s)", cfg.Sink.Backend, config.SinkSQLite)
	}

	store, err := sink.NewSQLite(cfg.Sink.SQLite.Path, cfg.Sink.Measurement, newLogger(io.Discard, cfg.Level(), cfg.LogFormat))
	if err != nil {
		return err
	}
	defer store.Close()

	readings, err := store.Latest(ctx, deviceID)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return writeJSON(w, readings)
	}
	if len(readings) == 0 {
		fmt.Fprintf(w, "no readings stored for %s\n", deviceID)
		return nil
	}
	for _, rd := range readings {
		fmt.Fprintf(w, "%-24s %-20v %s\n", rd.Field, rd.Value, rd.Timestamp.Format(time.RFC3339))
	}
	return nil
}
