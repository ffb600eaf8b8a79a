// Package router routes inbound MQTT messages. Discovery configurations
// update the component registry; data messages are matched against the
// registered state topics, converted to field sets and handed to the
// sink.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/discovery"
	"github.com/nugget/hassflux/internal/metrics"
	"github.com/nugget/hassflux/internal/registry"
	"github.com/nugget/hassflux/internal/topic"
)

// Subscriber issues broker subscriptions for newly learned state
// topics. The MQTT client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, qos byte) error
}

// Sink persists the field set extracted from one data message.
type Sink interface {
	Store(ctx context.Context, id string, fields discovery.Fields, ts time.Time) error
}

// Config controls message classification.
type Config struct {
	// DiscoveryPrefix is the first topic level of discovery configs,
	// used to read the component kind from a config topic.
	DiscoveryPrefix string

	// ConfigTopics are the filters that identify discovery configs.
	// Defaults to [discovery.ConfigPatterns] of DiscoveryPrefix.
	ConfigTopics []string

	// QoS is used when subscribing to component state topics.
	QoS byte
}

// Router classifies and processes inbound messages. It keeps no state
// between messages other than the registry and is safe for concurrent
// use.
type Router struct {
	cfg     Config
	reg     *registry.Registry
	sub     Subscriber
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Router. m may be nil.
func New(cfg Config, reg *registry.Registry, sub Subscriber, sink Sink, m *metrics.Metrics, logger *slog.Logger) *Router {
	if len(cfg.ConfigTopics) == 0 {
		cfg.ConfigTopics = discovery.ConfigPatterns(cfg.DiscoveryPrefix)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:     cfg,
		reg:     reg,
		sub:     sub,
		sink:    sink,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// ConfigTopics returns the discovery filters the transport must
// subscribe to.
func (r *Router) ConfigTopics() []string {
	return r.cfg.ConfigTopics
}

// Handle processes one inbound message. Errors and panics are logged
// and the message is dropped; Handle never fails the caller.
func (r *Router) Handle(ctx context.Context, t string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.Dropped(metrics.DropError)
			r.logger.Error("router panic while processing message",
				"topic", t, "panic", rec)
		}
	}()

	r.logger.Log(ctx, config.LevelTrace, "mqtt message payload",
		"topic", t, "payload", string(payload))

	var err error
	if topic.MatchesAny(t, r.cfg.ConfigTopics) {
		r.metrics.Received(metrics.RouteConfig)
		err = r.handleConfig(ctx, t, payload)
	} else {
		r.metrics.Received(metrics.RouteData)
		err = r.handleData(ctx, t, payload)
	}

	if err != nil {
		r.metrics.Dropped(metrics.DropError)
		r.logger.Error("router dropped message", "topic", t, "error", err)
	}
}

func (r *Router) handleConfig(ctx context.Context, t string, payload []byte) error {
	// An empty retained payload is how Home Assistant removes a
	// component. Registered components are only ever superseded.
	if len(payload) == 0 {
		r.logger.Debug("empty discovery config ignored", "topic", t)
		return nil
	}

	kind, err := discovery.KindFromTopic(t, r.cfg.DiscoveryPrefix)
	if errors.Is(err, discovery.ErrNotConfigTopic) {
		// Matched a configuration filter but carries no kind under the
		// discovery prefix; the filters and the prefix disagree.
		r.logger.Warn("config topic outside discovery prefix ignored",
			"topic", t, "prefix", r.cfg.DiscoveryPrefix)
		return nil
	}
	if err != nil {
		r.logger.Debug("discovery config ignored", "topic", t, "reason", err)
		return nil
	}

	c, err := discovery.ParseConfig(kind, payload)
	if errors.Is(err, discovery.ErrIncomplete) {
		r.logger.Debug("discovery config ignored", "topic", t, "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("parse discovery config: %w", err)
	}

	changed := r.reg.Upsert(c)
	r.metrics.Upserted(string(c.Kind), r.reg.Len())

	r.logger.Info("discovery config received",
		"component", c.UniqueID,
		"kind", c.Kind,
		"device", c.DeviceName(),
		"state_topic", c.StateTopic,
		"new_topic", changed,
	)

	if changed {
		r.subscribe(ctx, c.StateTopic)
	}
	return nil
}

// subscribe requests the state topic. Failures leave the component
// registered; the next announcement retries.
func (r *Router) subscribe(ctx context.Context, stateTopic string) {
	if r.sub == nil {
		return
	}
	err := r.sub.Subscribe(ctx, stateTopic, r.cfg.QoS)
	r.metrics.Subscribed(err)
	if err != nil {
		r.logger.Error("state topic subscribe failed",
			"topic", stateTopic, "error", err)
		return
	}
	r.logger.Debug("state topic subscribed", "topic", stateTopic, "qos", r.cfg.QoS)
}

func (r *Router) handleData(ctx context.Context, t string, payload []byte) error {
	comps := r.reg.MatchAll(t)
	if len(comps) == 0 {
		r.metrics.Unknown()
		r.logger.Warn("data message from unknown component", "topic", t)
		return nil
	}
	defer r.metrics.ObserveProcessing(time.Now())

	p := discovery.Payload{Raw: payload}

	sensors := 0
	for _, c := range comps {
		if c.Kind == discovery.KindSensor {
			sensors++
		}
	}
	if sensors > 0 {
		data, err := discovery.DecodeJSON(payload)
		switch {
		case err == nil:
			p.JSON = data
		case sensors == len(comps):
			return err
		default:
			r.logger.Debug("data payload is not JSON, sensor components skipped",
				"topic", t, "error", err)
		}
	}

	id := resolveID(comps[0], p)

	fields := discovery.Fields{}
	for _, c := range comps {
		for _, f := range discovery.Extract(c, p) {
			if !fields.Add(f) {
				r.logger.Debug("duplicate field skipped",
					"component", c.UniqueID, "field", f.Name)
			}
		}
	}

	r.logger.Debug("component data received",
		"topic", t, "id", id, "components", len(comps), "fields", len(fields))

	if len(fields) == 0 {
		return nil
	}

	err := r.sink.Store(ctx, id, fields, r.now())
	r.metrics.Stored(err)
	if err != nil {
		r.logger.Error("sink store failed",
			"id", id, "fields", fields.Names(), "error", err)
	}
	return nil
}

// resolveID picks the series id for a data message. Sensor gateways
// multiplex many devices onto one topic and name the device in the
// payload; binary sensors are identified by their own unique id.
func resolveID(first discovery.Component, p discovery.Payload) string {
	if first.Kind == discovery.KindSensor {
		if id, ok := discovery.DeviceID(p.JSON); ok {
			return id
		}
	}
	return first.UniqueID
}
