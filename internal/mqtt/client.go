package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/metrics"
)

// configQoS is the QoS for discovery config subscriptions and the
// presence discovery payload.
const configQoS = 1

// ErrNotStarted is returned by operations that need a broker
// connection before [Client.Start] was called.
var ErrNotStarted = errors.New("mqtt client not started")

// TopicSource lists the state topics that must be resubscribed after a
// reconnect. The component registry satisfies it.
type TopicSource interface {
	StateTopics() []string
}

// Options wires a [Client] to the rest of the gateway.
type Options struct {
	// InstanceID is the persistent gateway identity
	// (see [LoadOrCreateInstanceID]).
	InstanceID string
	// ConfigTopics are the discovery filters to subscribe to.
	ConfigTopics []string
	// Topics supplies known state topics for resubscription. Optional.
	Topics TopicSource
	// Handler processes inbound messages.
	Handler MessageHandler
	// Metrics is optional.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Client manages the broker connection, subscriptions and the presence
// announcement, and dispatches inbound messages to the handler.
type Client struct {
	cfg        config.MQTTConfig
	opts       Options
	clientID   string
	device     DeviceInfo
	dispatch   *dispatcher
	logger     *slog.Logger
	cm         atomic.Pointer[autopaho.ConnectionManager]
	connection atomic.Bool
}

// New creates a Client but does not connect. Call [Client.Start] to
// connect.
func New(cfg config.MQTTConfig, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "hassflux-" + opts.InstanceID
	}

	var limiter *messageRateLimiter
	if cfg.RateLimit > 0 {
		limiter = newMessageRateLimiter(int64(cfg.RateLimit), time.Minute, logger)
	}

	handler := opts.Handler
	if handler == nil {
		handler = func(context.Context, string, []byte) {}
	}

	return &Client{
		cfg:      cfg,
		opts:     opts,
		clientID: clientID,
		device:   NewDeviceInfo(opts.InstanceID, cfg.Presence.DeviceName),
		dispatch: newDispatcher(cfg.QueueSize, logMessages(logger, handler), limiter, opts.Metrics, logger),
		logger:   logger,
	}
}

// ClientID returns the MQTT client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// Start starts the dispatch workers and the connection manager, then
// waits up to 30 seconds for the first connection. A timeout is logged
// and not returned: autopaho keeps retrying in the background.
//
// The connection outlives ctx so that [Client.Stop] can still announce
// "Stopped" after a shutdown signal; only Stop disconnects.
func (c *Client) Start(ctx context.Context) error {
	sessionCtx := context.WithoutCancel(ctx)
	pahoCfg, err := c.clientConfig(sessionCtx)
	if err != nil {
		return err
	}

	c.dispatch.start(ctx, c.cfg.Workers)

	cm, err := autopaho.NewConnection(sessionCtx, pahoCfg)
	if err != nil {
		c.dispatch.close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail; autopaho will keep retrying in the background.
		c.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// clientConfig builds the autopaho configuration from c.cfg.
func (c *Client) clientConfig(ctx context.Context) (autopaho.ClientConfig, error) {
	brokerURL, err := url.Parse(c.cfg.Broker)
	if err != nil {
		return autopaho.ClientConfig{}, fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: c.cfg.Username,
		ConnectPassword: []byte(c.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			c.cm.Store(cm)
			c.connection.Store(true)
			c.logger.Info("mqtt connected to broker", "broker", c.cfg.Broker, "client_id", c.clientID)
			c.subscribeAll(ctx, cm)
			c.announcePresence(ctx, cm)
		},
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					c.dispatch.enqueue(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) {
				c.connection.Store(false)
				c.logger.Error("mqtt connection lost", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.connection.Store(false)
				c.logger.Warn("mqtt server disconnected", "reason_code", d.ReasonCode)
			},
		},
	}

	if c.cfg.Presence.Enabled {
		pahoCfg.WillMessage = &paho.WillMessage{
			Topic:   c.presenceTopic(),
			Payload: []byte(PresenceOff),
			QoS:     c.qos(),
			Retain:  true,
		}
	}

	// Enable TLS for mqtts://, ssl:// and wss:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" || brokerURL.Scheme == "wss" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return pahoCfg, nil
}

// Stop announces "Stopped", disconnects, and waits for in-flight
// message handlers to finish. ctx bounds the publish and disconnect.
func (c *Client) Stop(ctx context.Context) error {
	cm := c.cm.Load()
	if cm == nil {
		c.dispatch.close()
		return nil
	}

	if c.cfg.Presence.Enabled && c.Connected() {
		c.publish(ctx, cm, c.presenceTopic(), []byte(PresenceOff), c.qos(), true)
	}
	err := cm.Disconnect(ctx)
	c.connection.Store(false)
	c.dispatch.close()
	return err
}

// AwaitConnection blocks until the broker connection is established or
// ctx expires. Used as the connwatch health probe.
func (c *Client) AwaitConnection(ctx context.Context) error {
	cm := c.cm.Load()
	if cm == nil {
		return ErrNotStarted
	}
	return cm.AwaitConnection(ctx)
}

// Connected reports whether the last connection event was "up".
func (c *Client) Connected() bool {
	return c.connection.Load()
}

// Subscribe subscribes to one topic filter. It satisfies
// [router.Subscriber].
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte) error {
	cm := c.cm.Load()
	if cm == nil {
		return ErrNotStarted
	}
	return subscribe(ctx, cm, []paho.SubscribeOptions{{Topic: topic, QoS: qos}})
}

func subscribe(ctx context.Context, cm *autopaho.ConnectionManager, subs []paho.SubscribeOptions) error {
	if len(subs) == 0 {
		return nil
	}
	suback, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if suback == nil {
		return nil
	}
	for i, code := range suback.Reasons {
		if code >= 0x80 && i < len(subs) {
			return fmt.Errorf("subscribe %s: refused with reason code 0x%02x", subs[i].Topic, code)
		}
	}
	return nil
}

// --- Topic helpers ---

func (c *Client) qos() byte {
	return byte(c.cfg.QoS)
}

func (c *Client) presenceTopic() string {
	return "home/" + c.cfg.Presence.DeviceName + "/Service"
}

func (c *Client) presenceDiscoveryTopic() string {
	return c.cfg.DiscoveryPrefix + "/binary_sensor/" + c.cfg.Presence.DeviceName + "/presence/config"
}

// subscriptions lists the discovery filters followed by the known
// state topics.
func (c *Client) subscriptions() []paho.SubscribeOptions {
	subs := make([]paho.SubscribeOptions, 0, len(c.opts.ConfigTopics))
	for _, t := range c.opts.ConfigTopics {
		subs = append(subs, paho.SubscribeOptions{Topic: t, QoS: configQoS})
	}
	if c.opts.Topics != nil {
		for _, t := range c.opts.Topics.StateTopics() {
			subs = append(subs, paho.SubscribeOptions{Topic: t, QoS: c.qos()})
		}
	}
	return subs
}

// --- Connection-up actions ---

func (c *Client) subscribeAll(ctx context.Context, cm *autopaho.ConnectionManager) {
	subs := c.subscriptions()
	err := subscribe(ctx, cm, subs)
	c.opts.Metrics.Subscribed(err)
	if err != nil {
		c.logger.Error("mqtt subscribe failed", "topics", len(subs), "error", err)
		return
	}
	c.logger.Info("mqtt subscribed",
		"config_topics", c.opts.ConfigTopics,
		"state_topics", len(subs)-len(c.opts.ConfigTopics))
}

func (c *Client) announcePresence(ctx context.Context, cm *autopaho.ConnectionManager) {
	if !c.cfg.Presence.Enabled {
		return
	}

	payload, err := json.Marshal(presenceConfig(c.opts.InstanceID, c.device, c.presenceTopic()))
	if err != nil {
		c.logger.Error("mqtt marshal presence discovery payload", "error", err)
		return
	}
	c.publish(ctx, cm, c.presenceDiscoveryTopic(), payload, configQoS, true)
	c.publish(ctx, cm, c.presenceTopic(), []byte(PresenceOn), c.qos(), true)
}

func (c *Client) publish(ctx context.Context, cm *autopaho.ConnectionManager, topic string, payload []byte, qos byte, retain bool) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		c.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return
	}
	c.logger.Debug("mqtt published", "topic", topic, "retain", retain)
}
