// Package metrics defines the Prometheus collectors for the hassflux
// pipeline. All methods are nil-safe: calling them on a nil *Metrics is
// a no-op, so components built without metrics need no guard checks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hassflux"

// Route labels for received messages.
const (
	RouteConfig = "config"
	RouteData   = "data"
)

// Drop reasons.
const (
	DropRateLimit = "rate_limit"
	DropQueueFull = "queue_full"
	DropError     = "error"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	MessagesReceived   *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	UnknownSender      prometheus.Counter
	ComponentsUpserted *prometheus.CounterVec
	Subscriptions      *prometheus.CounterVec
	Stores             *prometheus.CounterVec
	RegistrySize       prometheus.Gauge
	ProcessingDuration prometheus.Histogram
	DependencyUp       *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. When reg is a
// fresh [prometheus.Registry] the Go runtime and process collectors are
// added as well.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Inbound MQTT messages by route",
			},
			[]string{"route"},
		),
		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Inbound MQTT messages dropped before or during processing",
			},
			[]string{"reason"},
		),
		UnknownSender: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "unknown_sender_total",
				Help:      "Data messages on topics no registered component claims",
			},
		),
		ComponentsUpserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "upserts_total",
				Help:      "Component registrations by kind",
			},
			[]string{"kind"},
		),
		Subscriptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "subscriptions_total",
				Help:      "State topic subscription attempts by result",
			},
			[]string{"result"},
		),
		Stores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "stores_total",
				Help:      "Field sets handed to the sink by result",
			},
			[]string{"result"},
		),
		RegistrySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "components",
				Help:      "Components currently registered",
			},
		),
		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Data message processing duration including the sink write",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DependencyUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dependency_up",
				Help:      "Whether a watched dependency (broker, sink) is reachable",
			},
			[]string{"service"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.MessagesReceived,
			m.MessagesDropped,
			m.UnknownSender,
			m.ComponentsUpserted,
			m.Subscriptions,
			m.Stores,
			m.RegistrySize,
			m.ProcessingDuration,
			m.DependencyUp,
		)
		if _, ok := reg.(*prometheus.Registry); ok {
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
	}
	return m
}

// Received counts an inbound message on route.
func (m *Metrics) Received(route string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(route).Inc()
}

// Dropped counts a message dropped for reason.
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

// Unknown counts a data message from an unregistered sender.
func (m *Metrics) Unknown() {
	if m == nil {
		return
	}
	m.UnknownSender.Inc()
}

// Upserted counts a component registration and records the registry
// size afterwards.
func (m *Metrics) Upserted(kind string, size int) {
	if m == nil {
		return
	}
	m.ComponentsUpserted.WithLabelValues(kind).Inc()
	m.RegistrySize.Set(float64(size))
}

// Subscribed counts a subscription attempt.
func (m *Metrics) Subscribed(err error) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(result(err)).Inc()
}

// Stored counts a sink write.
func (m *Metrics) Stored(err error) {
	if m == nil {
		return
	}
	m.Stores.WithLabelValues(result(err)).Inc()
}

// ObserveProcessing records the time spent on one data message.
func (m *Metrics) ObserveProcessing(start time.Time) {
	if m == nil {
		return
	}
	m.ProcessingDuration.Observe(time.Since(start).Seconds())
}

// SetDependency records whether service is reachable.
func (m *Metrics) SetDependency(service string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.DependencyUp.WithLabelValues(service).Set(v)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
