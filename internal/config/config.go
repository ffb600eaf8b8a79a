// Package config handles hassflux configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nugget/hassflux/internal/topic"
)

// ErrNoConfig is returned by [FindConfig] when no config file exists in
// any of the search locations.
var ErrNoConfig = errors.New("no config file found")

// Sink backends.
const (
	SinkInfluxDB = "influxdb"
	SinkSQLite   = "sqlite"
	SinkLog      = "log"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/hassflux/config.yaml,
// /config/config.yaml (container volume), /etc/hassflux/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hassflux", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml", "/etc/hassflux/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all hassflux configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	Sink      SinkConfig   `yaml:"sink"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the metrics and health endpoint.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // 0 disables the HTTP server
}

// MQTTConfig defines the broker connection and discovery conventions.
type MQTTConfig struct {
	// Broker is the broker URL. mqtts:// and ssl:// enable TLS.
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientID defaults to "hassflux-" plus the persistent instance id.
	ClientID string `yaml:"client_id"`

	// QoS is used for component state topic subscriptions and the
	// presence state. Discovery configs are always subscribed at QoS 1.
	QoS int `yaml:"qos"`

	// DiscoveryPrefix is the Home Assistant discovery prefix.
	DiscoveryPrefix string `yaml:"discovery_prefix"`

	// ConfigurationTopics overrides the discovery filters. The default
	// is <prefix>/+/+/config and <prefix>/+/+/+/config. Every filter
	// must sit under DiscoveryPrefix, since the component kind is read
	// from the level after it.
	ConfigurationTopics []string `yaml:"configuration_topics"`

	// Workers is the number of goroutines handling inbound messages.
	Workers int `yaml:"workers"`
	// QueueSize bounds the inbound queue; a full queue drops messages.
	QueueSize int `yaml:"queue_size"`
	// RateLimit caps inbound messages per minute. 0 disables the limit.
	RateLimit int `yaml:"rate_limit"`

	Presence PresenceConfig `yaml:"presence"`
}

// PresenceConfig controls the gateway's own binary_sensor announcement.
type PresenceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	DeviceName string `yaml:"device_name"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// SinkConfig selects and configures the time-series backend.
type SinkConfig struct {
	Backend     string         `yaml:"backend"`
	Measurement string         `yaml:"measurement"`
	TimeoutSec  int            `yaml:"timeout_sec"`
	InfluxDB    InfluxDBConfig `yaml:"influxdb"`
	SQLite      SQLiteConfig   `yaml:"sqlite"`
}

// InfluxDBConfig defines the InfluxDB connection. For InfluxDB 1.x set
// Username/Password and use "database" or "database/retention" as
// Bucket; for 2.x set Token, Org and Bucket.
type InfluxDBConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`

	// InsecureSkipVerify disables TLS certificate checks. Use only for
	// self-signed servers on a trusted network.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AuthToken returns the token sent to InfluxDB: Token if set, otherwise
// the 1.x compatible "username:password" form.
func (c InfluxDBConfig) AuthToken() string {
	if c.Token != "" {
		return c.Token
	}
	if c.Username == "" {
		return ""
	}
	return c.Username + ":" + c.Password
}

// SQLiteConfig defines the local SQLite store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := base()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// broker set.
func Default() *Config {
	cfg := base()
	cfg.applyDefaults()
	return cfg
}

// base holds the defaults that YAML may override with a zero value.
func base() *Config {
	return &Config{
		Listen: ListenConfig{Port: 9186},
		MQTT: MQTTConfig{
			Presence: PresenceConfig{Enabled: true},
		},
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	c.DataDir = expandHome(c.DataDir)
	c.Sink.SQLite.Path = expandHome(c.Sink.SQLite.Path)
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	c.MQTT.DiscoveryPrefix = strings.TrimSuffix(c.MQTT.DiscoveryPrefix, "/")
	if c.MQTT.Workers <= 0 {
		c.MQTT.Workers = 4
	}
	if c.MQTT.QueueSize <= 0 {
		c.MQTT.QueueSize = 256
	}
	if c.MQTT.Presence.DeviceName == "" {
		c.MQTT.Presence.DeviceName = "hassflux"
	}
	if c.Sink.Backend == "" {
		c.Sink.Backend = SinkInfluxDB
	}
	if c.Sink.Measurement == "" {
		c.Sink.Measurement = "DeviceData"
	}
	if c.Sink.TimeoutSec <= 0 {
		c.Sink.TimeoutSec = 10
	}
	if c.Sink.SQLite.Path == "" {
		c.Sink.SQLite.Path = filepath.Join(c.DataDir, "telemetry.db")
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q: expected text or json", c.LogFormat)
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}

	if !c.MQTT.Configured() {
		return fmt.Errorf("mqtt.broker is required")
	}
	u, err := url.Parse(c.MQTT.Broker)
	if err != nil {
		return fmt.Errorf("mqtt.broker: %w", err)
	}
	switch u.Scheme {
	case "mqtt", "tcp", "mqtts", "ssl", "ws", "wss":
	default:
		return fmt.Errorf("mqtt.broker scheme %q not supported", u.Scheme)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range 0..2", c.MQTT.QoS)
	}
	if c.MQTT.RateLimit < 0 {
		return fmt.Errorf("mqtt.rate_limit must not be negative")
	}
	for _, f := range c.MQTT.ConfigurationTopics {
		if err := checkConfigFilter(f, c.MQTT.DiscoveryPrefix); err != nil {
			return err
		}
	}

	switch c.Sink.Backend {
	case SinkInfluxDB:
		if c.Sink.InfluxDB.URL == "" || c.Sink.InfluxDB.Bucket == "" {
			return fmt.Errorf("sink.influxdb.url and sink.influxdb.bucket are required")
		}
	case SinkSQLite:
		if c.Sink.SQLite.Path == "" {
			return fmt.Errorf("sink.sqlite.path is required")
		}
	case SinkLog:
	default:
		return fmt.Errorf("sink.backend %q: expected influxdb, sqlite or log", c.Sink.Backend)
	}
	return nil
}

// checkConfigFilter rejects discovery filters that cannot yield a
// component kind: <prefix>/<kind>/[<node_id>/]<object_id>/config, or a
// filter under prefix ending in "#".
func checkConfigFilter(filter, prefix string) error {
	rest, ok := strings.CutPrefix(filter, prefix+topic.Separator)
	if !ok {
		return fmt.Errorf("mqtt.configuration_topics %q: not under discovery_prefix %q", filter, prefix)
	}
	if strings.HasSuffix(rest, topic.MultiLevel) {
		return nil
	}
	if n := topic.Segments(rest); n < 3 || n > 4 || !strings.HasSuffix(rest, "/config") {
		return fmt.Errorf("mqtt.configuration_topics %q: expected <kind>/[<node_id>/]<object_id>/config after the prefix", filter)
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
