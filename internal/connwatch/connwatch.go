// Package connwatch tracks the reachability of the gateway's external
// dependencies: the MQTT broker and the sink backend.
//
// Each watched service is probed in a loop. While a service is down the
// delay between probes grows exponentially (1s, 2s, 4s, ... capped at
// MaxDelay); once it answers, probes fall back to PollInterval. State
// transitions are logged and reported to an optional callback, which
// the gateway uses to drive the dependency_up gauge and /healthz.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// ChangeFunc is called when a service's reachability changes, and once
// for its first probe result. It runs on the watcher goroutine and must
// not block.
type ChangeFunc func(service string, ready bool)

// Config controls probe timing.
type Config struct {
	// InitialDelay is the retry delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration
	// Multiplier scales the delay after each consecutive failure.
	Multiplier float64
	// PollInterval is the delay between probes of a healthy service.
	PollInterval time.Duration
	// ProbeTimeout bounds each probe call.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the probe schedule used by the gateway.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		PollInterval: 30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// Status is the health of one watched service, suitable for JSON
// serialization in the health endpoint.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures,omitempty"`
}

type service struct {
	name  string
	probe ProbeFunc

	mu        sync.Mutex
	known     bool
	ready     bool
	lastErr   error
	lastCheck time.Time
	failures  int
}

func (s *service) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:      s.name,
		Ready:     s.ready,
		LastCheck: s.lastCheck,
		Failures:  s.failures,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// record stores a probe result and reports whether the ready state
// changed (or was observed for the first time).
func (s *service) record(err error, now time.Time) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := err == nil
	changed = !s.known || s.ready != ready
	s.known = true
	s.ready = ready
	s.lastErr = err
	s.lastCheck = now
	if ready {
		s.failures = 0
	} else {
		s.failures++
	}
	return changed
}

// Monitor watches a set of services.
type Monitor struct {
	cfg      Config
	onChange ChangeFunc
	logger   *slog.Logger

	mu       sync.RWMutex
	services map[string]*service
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Monitor. onChange is optional.
func New(cfg Config, onChange ChangeFunc, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg.withDefaults(),
		onChange: onChange,
		logger:   logger,
		services: make(map[string]*service),
	}
}

// Watch starts probing a service in the background until ctx is
// cancelled or Stop is called.
//
// Panics if name is empty, probe is nil or name is already watched.
func (m *Monitor) Watch(ctx context.Context, name string, probe ProbeFunc) {
	if name == "" {
		panic("connwatch: service name must not be empty")
	}
	if probe == nil {
		panic("connwatch: probe must not be nil")
	}

	svc := &service{name: name, probe: probe}
	watchCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if _, dup := m.services[name]; dup {
		m.mu.Unlock()
		cancel()
		panic("connwatch: service " + name + " already watched")
	}
	m.services[name] = svc
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(watchCtx, svc)
	}()
}

func (m *Monitor) run(ctx context.Context, svc *service) {
	delay := m.cfg.InitialDelay
	for {
		err := m.probe(ctx, svc)
		if ctx.Err() != nil {
			return
		}

		if svc.record(err, time.Now()) {
			m.transition(svc.name, err)
		} else if err != nil {
			m.logger.Debug("service still unreachable",
				"service", svc.name,
				"next_delay", delay.String(),
				"error", err,
			)
		}

		wait := m.cfg.PollInterval
		if err != nil {
			wait = delay
			delay = min(time.Duration(float64(delay)*m.cfg.Multiplier), m.cfg.MaxDelay)
		} else {
			delay = m.cfg.InitialDelay
		}

		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (m *Monitor) transition(name string, err error) {
	if err == nil {
		m.logger.Info("service reachable", "service", name)
	} else {
		m.logger.Warn("service unreachable", "service", name, "error", err)
	}
	if m.onChange != nil {
		m.onChange(name, err == nil)
	}
}

// probe calls the service's ProbeFunc with a timeout.
func (m *Monitor) probe(ctx context.Context, svc *service) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	return svc.probe(probeCtx)
}

// Status returns the health of every watched service, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.services))
	for _, svc := range m.services {
		out = append(out, svc.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched service is ready. A service
// that has not been probed yet counts as not ready.
func (m *Monitor) Healthy() bool {
	for _, st := range m.Status() {
		if !st.Ready {
			return false
		}
	}
	return true
}

// Stop cancels all watchers and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	m.wg.Wait()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
