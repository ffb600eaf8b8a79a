package mqtt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/hassflux/internal/metrics"
)

// MessageHandler is called for each MQTT message received on a
// subscribed topic. Implementations must be safe for concurrent use.
// [router.Router.Handle] satisfies it.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

type inbound struct {
	topic   string
	payload []byte
}

// dispatcher fans inbound messages out to a fixed pool of workers. It
// never blocks the Paho receive path: when the queue is full the
// message is dropped.
type dispatcher struct {
	queue   chan inbound
	handler MessageHandler
	limiter *messageRateLimiter // nil when unlimited
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex // guards closed against enqueue racing close
	closed bool
	wg     sync.WaitGroup
}

func newDispatcher(queueSize int, handler MessageHandler, limiter *messageRateLimiter, m *metrics.Metrics, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		queue:   make(chan inbound, queueSize),
		handler: handler,
		limiter: limiter,
		metrics: m,
		logger:  logger,
	}
}

// start launches the workers. Handlers run with a context detached
// from ctx's cancellation so messages already taken off the queue
// finish during shutdown.
func (d *dispatcher) start(ctx context.Context, workers int) {
	hctx := context.WithoutCancel(ctx)
	for range workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for msg := range d.queue {
				d.handler(hctx, msg.topic, msg.payload)
			}
		}()
	}
	if d.limiter != nil {
		go d.limiter.start(ctx)
	}
}

// enqueue hands a message to the workers. It reports false when the
// message was dropped.
func (d *dispatcher) enqueue(topic string, payload []byte) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}
	if d.limiter != nil && !d.limiter.allow() {
		d.metrics.Dropped(metrics.DropRateLimit)
		return false
	}

	select {
	case d.queue <- inbound{topic: topic, payload: payload}:
		return true
	default:
		d.metrics.Dropped(metrics.DropQueueFull)
		d.logger.Warn("mqtt inbound queue full, message dropped",
			"topic", topic, "queue_size", cap(d.queue))
		return false
	}
}

// close stops accepting messages, lets the workers drain the queue and
// waits for them to exit. It is safe to call more than once.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// messageRateLimiter tracks inbound message rates and drops messages
// when the rate exceeds the configured threshold. It uses atomic
// counters for lock-free operation on the hot path.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

// newMessageRateLimiter allows limit messages per interval.
func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the counter at every interval boundary until ctx is
// cancelled, logging a warning if anything was dropped.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			dropped := r.dropped.Swap(0)
			if dropped > 0 {
				r.logger.Warn("mqtt messages dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

// allow counts a message and reports whether it is within the limit.
func (r *messageRateLimiter) allow() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}

// logMessages wraps next with a debug log line per message, carrying
// the topic and payload size.
func logMessages(logger *slog.Logger, next MessageHandler) MessageHandler {
	return func(ctx context.Context, topic string, payload []byte) {
		if logger.Enabled(ctx, slog.LevelDebug) {
			logger.Debug("mqtt message received",
				"topic", topic,
				"payload_size", len(payload),
			)
		}
		next(ctx, topic, payload)
	}
}
