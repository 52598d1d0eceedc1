package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"tiedie-sdk/pkg/auth"
)

// Errors returned by the telemetry client.
var (
	ErrNotConnected      = errors.New("telemetry: client not connected")
	ErrConnectionFailed  = errors.New("telemetry: connection failed")
	ErrSubscribeFailed   = errors.New("telemetry: subscribe failed")
	ErrUnsubscribeFailed = errors.New("telemetry: unsubscribe failed")
	ErrInvalidTopic      = errors.New("telemetry: topic cannot be empty")
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultOperationTimeout  = 5 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultQoS               = 1
)

// State is the connection state of a Client.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives the records of a single-topic subscription.
type Handler func(record Record)

// TopicHandler receives records together with the topic they arrived on.
type TopicHandler func(record Record, topic string)

// Logger is the logging interface used by the client.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client receives telemetry published by gateways on an MQTT broker.
//
// Connect, Disconnect, Subscribe and Unsubscribe serialize on one lock.
// Handlers run on paho's delivery goroutine, one message at a time, so a
// slow handler delays every later message of the session.
type Client struct {
	mu            sync.Mutex
	client        pahomqtt.Client
	opts          *pahomqtt.ClientOptions
	state         State
	secure        bool
	subscriptions map[string]pahomqtt.MessageHandler

	qos       byte
	logger    Logger
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithQoS sets the subscription QoS (0, 1 or 2). Values above 2 are clamped.
func WithQoS(qos byte) Option {
	return func(c *Client) {
		c.qos = min(qos, 2)
	}
}

// NewClient prepares a client for the broker at brokerURL, e.g.
// "ssl://broker.example.com:8883". It does not connect.
//
// Sessions are non-durable and paho reconnects automatically. For plaintext
// broker URLs any TLS configuration supplied by the authenticator is dropped.
func NewClient(brokerURL string, authenticator auth.Authenticator, options ...Option) (*Client, error) {
	if authenticator == nil {
		return nil, fmt.Errorf("%w: authenticator is required", auth.ErrMissingCredentials)
	}

	c := &Client{
		subscriptions: make(map[string]pahomqtt.MessageHandler),
		qos:           defaultQoS,
		logger:        slog.New(slog.DiscardHandler),
		newClient:     pahomqtt.NewClient,
	}
	for _, opt := range options {
		opt(c)
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(authenticator.ClientID())
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if err := authenticator.ConfigureMQTT(opts); err != nil {
		return nil, fmt.Errorf("failed to configure broker credentials: %w", err)
	}

	// paho would otherwise try a TLS handshake on a plaintext listener.
	c.secure = IsTLSBrokerURL(brokerURL)
	if !c.secure {
		opts.SetTLSConfig(nil)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Info("reconnecting to telemetry broker", "broker", brokerURL)
	})

	c.opts = opts
	c.client = c.newClient(opts)

	return c, nil
}

// IsTLSBrokerURL reports whether the broker URL uses an encrypted scheme.
func IsTLSBrokerURL(brokerURL string) bool {
	normalized := strings.ToLower(strings.TrimSpace(brokerURL))
	for _, scheme := range []string{"ssl://", "tls://", "wss://", "mqtts://"} {
		if strings.HasPrefix(normalized, scheme) {
			return true
		}
	}
	return false
}

// SecureTransport reports whether the broker connection is encrypted.
func (c *Client) SecureTransport() bool {
	return c.secure
}

// HostnameVerification reports whether the broker certificate's host name
// is verified on connect. Without a TLS configuration paho verifies against
// the system roots.
func (c *Client) HostnameVerification() bool {
	return c.secure && (c.opts.TLSConfig == nil || !c.opts.TLSConfig.InsecureSkipVerify)
}

// Connect connects to the broker. It is a no-op when already connected.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected && c.client.IsConnected() {
		return nil
	}

	c.state = StateConnecting
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		c.state = StateDisconnected
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		c.state = StateDisconnected
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.state = StateConnected

	return nil
}

// Disconnect disconnects from the broker and forgets all subscriptions.
// It is a no-op when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected && !c.client.IsConnected() {
		return
	}

	c.client.Disconnect(defaultDisconnectQuiesce)
	c.state = StateDisconnected
	clear(c.subscriptions)
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) connectedLocked() bool {
	return c.state == StateConnected && c.client.IsConnected()
}

// Subscribe delivers every record published on topic to handler.
// topic may contain MQTT wildcards.
func (c *Client) Subscribe(topic string, handler Handler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	cb := c.messageHandler(func(record Record, _ string) {
		handler(record)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectedLocked() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, c.qos, cb)
	if err := waitToken(token, ErrSubscribeFailed); err != nil {
		return err
	}
	c.trackLocked(cb, topic)

	return nil
}

// SubscribeTopics subscribes to several topics with one handler that also
// receives the topic each record arrived on.
func (c *Client) SubscribeTopics(topics []string, handler TopicHandler) error {
	if len(topics) == 0 {
		return ErrInvalidTopic
	}
	filters := make(map[string]byte, len(topics))
	for _, topic := range topics {
		if topic == "" {
			return ErrInvalidTopic
		}
		filters[topic] = c.qos
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	cb := c.messageHandler(handler)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectedLocked() {
		return ErrNotConnected
	}

	token := c.client.SubscribeMultiple(filters, cb)
	if err := waitToken(token, ErrSubscribeFailed); err != nil {
		return err
	}
	c.trackLocked(cb, topics...)

	return nil
}

// Unsubscribe stops delivery for the given topics. It is a no-op when no
// topics are given. While the client is not connected the topics are only
// forgotten, so a later reconnect does not restore them.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(topics) == 0 {
		return nil
	}

	if c.connectedLocked() {
		token := c.client.Unsubscribe(topics...)
		if err := waitToken(token, ErrUnsubscribeFailed); err != nil {
			return err
		}
	}
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}

	return nil
}

// HasSubscription reports whether topic is subscribed. Only the exact topic
// string is compared.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[topic]
	return ok
}

func (c *Client) trackLocked(cb pahomqtt.MessageHandler, topics ...string) {
	for _, topic := range topics {
		if _, exists := c.subscriptions[topic]; exists {
			c.logger.Debug("replacing telemetry subscription", "topic", topic)
		}
		c.subscriptions[topic] = cb
	}
}

// handleConnect runs after every (re)connect. Clean sessions lose
// broker-side subscriptions, so they are restored here. A connect that
// completes after Disconnect is ignored.
func (c *Client) handleConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		c.logger.Debug("ignoring telemetry broker connect after disconnect")
		return
	}

	c.state = StateConnected
	for topic, cb := range c.subscriptions {
		token := c.client.Subscribe(topic, c.qos, cb)
		go c.awaitRestore(topic, token)
	}
	c.logger.Info("connected to telemetry broker", "subscriptions", len(c.subscriptions))
}

// awaitRestore logs a resubscribe the broker rejected. It must not hold
// c.mu: paho completes tokens from its own goroutines.
func (c *Client) awaitRestore(topic string, token pahomqtt.Token) {
	if err := waitToken(token, ErrSubscribeFailed); err != nil {
		c.logger.Error("failed to restore telemetry subscription", "topic", topic, "error", err)
	}
}

func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	c.logger.Warn("telemetry broker connection lost", "error", err)
}

// messageHandler decodes each message and dispatches its records in order.
// Undecodable payloads are logged and dropped; the subscription stays up.
func (c *Client) messageHandler(dispatch TopicHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		payload := msg.Payload()
		records, err := DecodeRecords(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable telemetry payload",
				"topic", msg.Topic(),
				"size", len(payload),
				"error", err,
			)
			return
		}

		for _, record := range records {
			c.dispatch(dispatch, record, msg.Topic())
		}
	}
}

func (c *Client) dispatch(handler TopicHandler, record Record, topic string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("telemetry handler panic recovered",
				"topic", topic,
				"device_id", record.DeviceID,
				"panic", r,
			)
		}
	}()

	handler(record, topic)
}

func waitToken(token pahomqtt.Token, failure error) error {
	if !token.WaitTimeout(defaultOperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", failure, defaultOperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", failure, err)
	}
	return nil
}
