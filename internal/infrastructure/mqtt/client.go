package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/austin-relay/internal/infrastructure/config"
)

var (
	// ErrConnectionFailed is returned by Connect when the broker cannot be reached.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned by operations on a client that is not connected.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed wraps broker and timeout failures of Publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps broker and timeout failures of Subscribe and Unsubscribe.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)

// Logger is the logging interface the client reports through.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives a message from a subscription. paho invokes
// handlers on its own goroutines; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Client publishes run events to an MQTT broker and listens for control
// requests.
//
// The client reconnects on its own. Subscriptions are restored and the
// retained online status is republished after every reconnect.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected  atomic.Bool
	published  atomic.Int64
	failures   atomic.Int64
	reconnects atomic.Int64

	subs subscriptions

	mu           sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Stats counts the client's traffic for the metrics endpoint.
type Stats struct {
	Connected       bool  `json:"connected"`
	Published       int64 `json:"published"`
	PublishFailures int64 `json:"publish_failures"`
	Reconnects      int64 `json:"reconnects"`
	Subscriptions   int   `json:"subscriptions"`
}

// Connect dials the broker from cfg, registers the offline last will on
// {prefix}/system/status and waits for the first connection.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)

	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleConnectionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.reconnects.Add(1)
		c.logWarn("MQTT reconnecting", "client_id", cfg.Broker.ClientID)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously and may not have fired yet.
	c.connected.Store(true)

	return c, nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	for _, sub := range c.subs.all() {
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.client.Publish(c.topics.SystemStatus(), c.DefaultQoS(), true, presencePayload(statusOnline, c.cfg.Broker.ClientID, ""))

	c.mu.RLock()
	callback := c.onConnect
	c.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.connected.Store(false)

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Close publishes the retained graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.topics.SystemStatus(), c.DefaultQoS(), true,
			presencePayload(statusOffline, c.cfg.Broker.ClientID, reasonShutdown))
		token.WaitTimeout(publishTimeout)
	}

	c.client.Disconnect(disconnectQuiesceMS)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// Topics returns the topic builder bound to the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// DefaultQoS returns the configured QoS for lifecycle messages.
func (c *Client) DefaultQoS() byte {
	return byte(c.cfg.QoS) //nolint:gosec // Validated to 0..2 by config
}

// Stats returns traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:       c.IsConnected(),
		Published:       c.published.Load(),
		PublishFailures: c.failures.Load(),
		Reconnects:      c.reconnects.Load(),
		Subscriptions:   c.subs.count(),
	}
}

// SetOnConnect sets a callback run after every (re)connection.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler errors and reconnects. Without one
// they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) logWarn(msg string, args ...any) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	c.mu.RLock()
	logger := c.logger
	c.mu.RUnlock()
	if logger != nil {
		logger.Error(msg, args...)
	}
}
