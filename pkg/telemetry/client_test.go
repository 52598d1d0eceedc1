package telemetry

import (
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken completes immediately with err.
type fakeToken struct {
	pahomqtt.Token
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool { return !t.timeout }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }

func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct {
	pahomqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

// fakeBroker stands in for the paho client.
type fakeBroker struct {
	pahomqtt.Client

	mu           sync.Mutex
	opts         *pahomqtt.ClientOptions
	connected    bool
	connectErr   error
	subscribeErr error
	connects     int
	disconnects  int
	callbacks    map[string]pahomqtt.MessageHandler
	subscribed   []string
	unsubscribe  [][]string
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Connect() pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connectErr != nil {
		return &fakeToken{err: b.connectErr}
	}
	b.connected = true
	return &fakeToken{}
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	b.connected = false
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks[topic] = cb
	b.subscribed = append(b.subscribed, topic)
	return &fakeToken{err: b.subscribeErr}
}

func (b *fakeBroker) SubscribeMultiple(filters map[string]byte, cb pahomqtt.MessageHandler) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic := range filters {
		b.callbacks[topic] = cb
		b.subscribed = append(b.subscribed, topic)
	}
	return &fakeToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) pahomqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		delete(b.callbacks, topic)
	}
	b.unsubscribe = append(b.unsubscribe, topics)
	return &fakeToken{}
}

// deliver hands payload to the callback registered for topic.
func (b *fakeBroker) deliver(t *testing.T, topic string, payload []byte) {
	t.Helper()
	b.mu.Lock()
	cb, ok := b.callbacks[topic]
	b.mu.Unlock()
	require.True(t, ok, "no callback for %s", topic)
	cb(b, &fakeMessage{topic: topic, payload: payload})
}

func (b *fakeBroker) dropConnection() {
	b.mu.Lock()
	b.connected = false
	clear(b.callbacks)
	b.mu.Unlock()
	b.opts.OnConnectionLost(b, errors.New("network unreachable"))
}

func (b *fakeBroker) reconnect() {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.opts.OnConnect(b)
}

func (b *fakeBroker) subscribedTopics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribed...)
}

// recordingLogger keeps the messages logged at error level.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorMessages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

func withClientFactory(broker *fakeBroker) Option {
	return func(c *Client) {
		c.newClient = func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
			broker.opts = opts
			return broker
		}
	}
}

// testAuth is a minimal authenticator for tests.
type testAuth struct {
	tls *tls.Config
	err error
}

func (testAuth) ClientID() string { return "data-app" }

func (testAuth) AuthorizeRequest(*http.Request) error { return nil }

func (a testAuth) TLSConfig() *tls.Config { return a.tls }

func (a testAuth) ConfigureMQTT(opts *pahomqtt.ClientOptions) error {
	if a.err != nil {
		return a.err
	}
	opts.SetUsername("data-app")
	opts.SetPassword("secret")
	if a.tls != nil {
		opts.SetTLSConfig(a.tls)
	}
	return nil
}

func newTestClient(t *testing.T, brokerURL string) (*Client, *fakeBroker) {
	t.Helper()
	broker := &fakeBroker{callbacks: make(map[string]pahomqtt.MessageHandler)}
	c, err := NewClient(brokerURL, testAuth{tls: &tls.Config{ServerName: "broker"}}, withClientFactory(broker))
	require.NoError(t, err)
	return c, broker
}

func connectedClient(t *testing.T) (*Client, *fakeBroker) {
	t.Helper()
	c, broker := newTestClient(t, "tcp://localhost:1883")
	require.NoError(t, c.Connect())
	return c, broker
}

func encode(t *testing.T, records ...Record) []byte {
	t.Helper()
	payload, err := EncodeRecords(records...)
	require.NoError(t, err)
	return payload
}

func TestNewClient_Options(t *testing.T) {
	c, broker := newTestClient(t, "tcp://localhost:1883")

	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, "data-app", broker.opts.ClientID)
	assert.Equal(t, "data-app", broker.opts.Username)
	assert.True(t, broker.opts.CleanSession)
	assert.True(t, broker.opts.AutoReconnect)
	require.Len(t, broker.opts.Servers, 1)
	assert.Equal(t, "localhost:1883", broker.opts.Servers[0].Host)
}

func TestNewClient_PlaintextDropsTLS(t *testing.T) {
	c, broker := newTestClient(t, "tcp://localhost:1883")

	assert.Nil(t, broker.opts.TLSConfig)
	assert.False(t, c.SecureTransport())
	assert.False(t, c.HostnameVerification())
}

func TestNewClient_TLSKeepsVerification(t *testing.T) {
	for _, url := range []string{"ssl://broker:8883", "TLS://broker:8883", "mqtts://broker:8883", "wss://broker/mqtt"} {
		t.Run(url, func(t *testing.T) {
			c, _ := newTestClient(t, url)

			assert.True(t, c.SecureTransport())
			assert.True(t, c.HostnameVerification())
		})
	}
}

func TestNewClient_TLSWithoutConfig(t *testing.T) {
	broker := &fakeBroker{callbacks: make(map[string]pahomqtt.MessageHandler)}
	c, err := NewClient("mqtts://broker:8883", testAuth{}, withClientFactory(broker))
	require.NoError(t, err)

	assert.Nil(t, broker.opts.TLSConfig)
	assert.True(t, c.SecureTransport())
	assert.True(t, c.HostnameVerification())

	insecure := testAuth{tls: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec // test
	c, err = NewClient("ssl://broker:8883", insecure, withClientFactory(broker))
	require.NoError(t, err)

	assert.True(t, c.SecureTransport())
	assert.False(t, c.HostnameVerification())
}

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient("tcp://localhost:1883", nil)
	assert.Error(t, err)

	_, err = NewClient("tcp://localhost:1883", testAuth{err: errors.New("token expired")})
	assert.ErrorContains(t, err, "token expired")
}

func TestIsTLSBrokerURL(t *testing.T) {
	assert.True(t, IsTLSBrokerURL(" ssl://b:8883"))
	assert.True(t, IsTLSBrokerURL("mqtts://b"))
	assert.False(t, IsTLSBrokerURL("tcp://b:1883"))
	assert.False(t, IsTLSBrokerURL("ws://b/mqtt"))
	assert.False(t, IsTLSBrokerURL(""))
}

func TestClient_ConnectIdempotent(t *testing.T) {
	c, broker := connectedClient(t)

	require.NoError(t, c.Connect())
	assert.Equal(t, 1, broker.connects)
	assert.True(t, c.IsConnected())
	assert.Equal(t, StateConnected, c.State())
}

func TestClient_ConnectFailure(t *testing.T) {
	c, broker := newTestClient(t, "tcp://localhost:1883")
	broker.connectErr = errors.New("not authorized")

	err := c.Connect()
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.ErrorContains(t, err, "not authorized")
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	c, broker := newTestClient(t, "tcp://localhost:1883")

	c.Disconnect()
	assert.Zero(t, broker.disconnects)

	require.NoError(t, c.Connect())
	require.NoError(t, c.Subscribe("gw/+/telemetry", func(Record) {}))

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, 1, broker.disconnects)
	assert.False(t, c.IsConnected())
	assert.False(t, c.HasSubscription("gw/+/telemetry"))
}

func TestClient_SubscribeRequiresConnection(t *testing.T) {
	c, broker := newTestClient(t, "tcp://localhost:1883")

	err := c.Subscribe("topic", func(Record) {})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, broker.subscribed)
}

func TestClient_SubscribeValidation(t *testing.T) {
	c, _ := connectedClient(t)

	assert.ErrorIs(t, c.Subscribe("", func(Record) {}), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("topic", nil), ErrSubscribeFailed)
	assert.ErrorIs(t, c.SubscribeTopics(nil, func(Record, string) {}), ErrInvalidTopic)
	assert.ErrorIs(t, c.SubscribeTopics([]string{"a", ""}, func(Record, string) {}), ErrInvalidTopic)
}

func TestClient_DeliversEachRecordInOrder(t *testing.T) {
	c, broker := connectedClient(t)

	var got []string
	require.NoError(t, c.Subscribe("gw/1/telemetry", func(r Record) {
		got = append(got, r.DeviceID)
	}))
	assert.True(t, c.HasSubscription("gw/1/telemetry"))

	broker.deliver(t, "gw/1/telemetry", encode(t, notification("a"), notification("b"), notification("c")))
	broker.deliver(t, "gw/1/telemetry", encode(t, notification("d")))

	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestClient_BadPayloadKeepsSubscription(t *testing.T) {
	c, broker := connectedClient(t)

	var got []Record
	require.NoError(t, c.Subscribe("t", func(r Record) { got = append(got, r) }))

	broker.deliver(t, "t", []byte{0xa1})
	broker.deliver(t, "t", []byte{0x18, 0x2a})
	broker.deliver(t, "t", []byte{0xf6})
	assert.Empty(t, got)

	assert.True(t, c.HasSubscription("t"))
	assert.Empty(t, broker.unsubscribe)

	broker.deliver(t, "t", encode(t, notification("after")))
	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].DeviceID)
}

func TestClient_HandlerPanicRecovered(t *testing.T) {
	c, broker := connectedClient(t)

	var seen []string
	require.NoError(t, c.Subscribe("t", func(r Record) {
		seen = append(seen, r.DeviceID)
		if r.DeviceID == "boom" {
			panic("handler failure")
		}
	}))

	assert.NotPanics(t, func() {
		broker.deliver(t, "t", encode(t, notification("boom"), notification("next")))
	})
	assert.Equal(t, []string{"boom", "next"}, seen)
}

func TestClient_SubscribeTopicsPassesTopic(t *testing.T) {
	c, broker := connectedClient(t)

	type delivery struct{ device, topic string }
	var got []delivery
	require.NoError(t, c.SubscribeTopics([]string{"gw/a", "gw/b"}, func(r Record, topic string) {
		got = append(got, delivery{r.DeviceID, topic})
	}))
	assert.True(t, c.HasSubscription("gw/a"))
	assert.True(t, c.HasSubscription("gw/b"))

	broker.deliver(t, "gw/b", encode(t, notification("dev-b")))
	broker.deliver(t, "gw/a", encode(t, notification("dev-a")))

	assert.Equal(t, []delivery{{"dev-b", "gw/b"}, {"dev-a", "gw/a"}}, got)
}

func TestClient_Unsubscribe(t *testing.T) {
	c, broker := newTestClient(t, "tcp://localhost:1883")

	require.NoError(t, c.Unsubscribe("t"))
	assert.Empty(t, broker.unsubscribe)

	require.NoError(t, c.Connect())
	require.NoError(t, c.Subscribe("t", func(Record) {}))

	require.NoError(t, c.Unsubscribe())
	assert.Empty(t, broker.unsubscribe)

	require.NoError(t, c.Unsubscribe("t"))
	assert.Equal(t, [][]string{{"t"}}, broker.unsubscribe)
	assert.False(t, c.HasSubscription("t"))
}

func TestClient_RestoresSubscriptionsOnReconnect(t *testing.T) {
	c, broker := connectedClient(t)

	var got []string
	require.NoError(t, c.Subscribe("t", func(r Record) { got = append(got, r.DeviceID) }))

	broker.dropConnection()
	assert.Equal(t, StateConnecting, c.State())
	assert.False(t, c.IsConnected())

	broker.reconnect()
	assert.Equal(t, StateConnected, c.State())

	broker.deliver(t, "t", encode(t, notification("resumed")))
	assert.Equal(t, []string{"resumed"}, got)
}

func TestClient_UnsubscribeWhileReconnecting(t *testing.T) {
	c, broker := connectedClient(t)
	require.NoError(t, c.Subscribe("t", func(Record) {}))

	broker.dropConnection()
	require.NoError(t, c.Unsubscribe("t"))
	assert.Empty(t, broker.unsubscribe)
	assert.False(t, c.HasSubscription("t"))

	broker.reconnect()
	assert.Equal(t, StateConnected, c.State())
	assert.False(t, c.HasSubscription("t"))
	assert.Equal(t, []string{"t"}, broker.subscribedTopics())
}

func TestClient_LogsFailedRestore(t *testing.T) {
	logger := &recordingLogger{}
	broker := &fakeBroker{callbacks: make(map[string]pahomqtt.MessageHandler)}
	c, err := NewClient("tcp://localhost:1883", testAuth{}, WithLogger(logger), withClientFactory(broker))
	require.NoError(t, err)
	require.NoError(t, c.Connect())
	require.NoError(t, c.Subscribe("t", func(Record) {}))

	broker.dropConnection()
	broker.mu.Lock()
	broker.subscribeErr = errors.New("not authorized")
	broker.mu.Unlock()
	broker.reconnect()

	assert.Eventually(t, func() bool {
		return len(logger.errorMessages()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"failed to restore telemetry subscription"}, logger.errorMessages())
	assert.True(t, c.HasSubscription("t"))
}

func TestClient_IgnoresConnectAfterDisconnect(t *testing.T) {
	c, broker := connectedClient(t)
	require.NoError(t, c.Subscribe("t", func(Record) {}))

	c.Disconnect()
	broker.reconnect()

	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, []string{"t"}, broker.subscribedTopics())

	broker.dropConnection()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestWithQoS(t *testing.T) {
	broker := &fakeBroker{callbacks: make(map[string]pahomqtt.MessageHandler)}
	c, err := NewClient("tcp://localhost:1883", testAuth{}, WithQoS(7), withClientFactory(broker))
	require.NoError(t, err)

	assert.Equal(t, byte(2), c.qos)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}
