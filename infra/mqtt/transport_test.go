package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roamgate/core/model"
	coremon "github.com/kilianp07/roamgate/core/monitoring"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/infra/presence"
)

func keyFor(stationID string) station.Key {
	return station.Key{TenantID: "default", StationID: stationID, Version: model.OCPPVersion16}
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// mockClient implements paho.Client for tests. onPublish runs synchronously
// inside Publish so tests can answer commands.
type mockClient struct {
	opts        *paho.ClientOptions
	mu          sync.Mutex
	handlers    map[string]paho.MessageHandler
	subscribed  map[string]byte
	published   []published
	publishErrs []error
	onPublish   func(m *mockClient, topic string, payload []byte)
}

func newMockClient() *mockClient {
	return &mockClient{handlers: map[string]paho.MessageHandler{}, subscribed: map[string]byte{}}
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	b, _ := payload.([]byte)
	m.mu.Lock()
	m.published = append(m.published, published{topic: topic, qos: qos, payload: b})
	var err error
	if len(m.publishErrs) > 0 {
		err = m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
	}
	hook := m.onPublish
	m.mu.Unlock()
	if err == nil && hook != nil {
		hook(m, topic, b)
	}
	return &dummyToken{err: err}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = h
	m.subscribed[topic] = qos
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

// deliver hands payload to the handler subscribed on pattern.
func (m *mockClient) deliver(pattern, topic string, payload []byte) {
	m.mu.Lock()
	h := m.handlers[pattern]
	m.mu.Unlock()
	if h != nil {
		h(m, mockMessage{topic: topic, p: payload})
	}
}

func (m *mockClient) sent() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

// replyWith answers every command with status.
func replyWith(status string) func(m *mockClient, topic string, payload []byte) {
	return func(m *mockClient, topic string, payload []byte) {
		var cmd struct {
			CommandID string `json:"command_id"`
		}
		_ = json.Unmarshal(payload, &cmd)
		reply := fmt.Sprintf(`{"command_id":%q,"status":%q}`, cmd.CommandID, status)
		m.deliver(ReplyTopic("ocpp"), topic+"/reply", []byte(reply))
	}
}

func useMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() {
		newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) }
	})
}

func testConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		ClientID:       "id",
		BackoffMS:      1,
		ReplyTimeoutMS: 50,
		QoS:            map[string]byte{"command": 2, "reply": 1},
	}
}

func TestRemoteStartPublishesOCPPRequest(t *testing.T) {
	mc := newMockClient()
	mc.onPublish = replyWith("Accepted")
	useMock(t, mc)

	tr, err := NewTransport(testConfig(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(1), mc.subscribed[ReplyTopic("ocpp")])
	assert.NotContains(t, mc.subscribed, StatusTopic("ocpp"))

	cli, err := tr.Client(context.Background(), keyFor("CS1"))
	require.NoError(t, err)
	require.NotNil(t, cli)
	res, err := cli.RemoteStartTransaction(context.Background(), 2, "TAG1")
	require.NoError(t, err)
	assert.Equal(t, station.DeviceAccepted, res)

	sent := mc.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ocpp/default/CS1/1.6/command", sent[0].topic)
	assert.Equal(t, byte(2), sent[0].qos)
	var cmd struct {
		CommandID string `json:"command_id"`
		Action    string `json:"action"`
		Payload   struct {
			ConnectorID int    `json:"connectorId"`
			IDTag       string `json:"idTag"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(sent[0].payload, &cmd))
	assert.NotEmpty(t, cmd.CommandID)
	assert.Equal(t, "RemoteStartTransaction", cmd.Action)
	assert.Equal(t, 2, cmd.Payload.ConnectorID)
	assert.Equal(t, "TAG1", cmd.Payload.IDTag)
}

func TestRemoteStopRejected(t *testing.T) {
	mc := newMockClient()
	mc.onPublish = replyWith("Rejected")
	useMock(t, mc)

	tr, err := NewTransport(testConfig(), nil, nil)
	require.NoError(t, err)
	cli, err := tr.Client(context.Background(), keyFor("CS1"))
	require.NoError(t, err)
	res, err := cli.RemoteStopTransaction(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, station.DeviceRejected, res)

	var cmd struct {
		Action  string `json:"action"`
		Payload struct {
			TransactionID int `json:"transactionId"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(mc.sent()[0].payload, &cmd))
	assert.Equal(t, "RemoteStopTransaction", cmd.Action)
	assert.Equal(t, 42, cmd.Payload.TransactionID)
}

func TestReplyTimeout(t *testing.T) {
	mc := newMockClient()
	useMock(t, mc)

	tr, err := NewTransport(testConfig(), nil, nil)
	require.NoError(t, err)
	cli, _ := tr.Client(context.Background(), keyFor("CS1"))
	res, err := cli.RemoteStartTransaction(context.Background(), 1, "TAG1")
	assert.ErrorIs(t, err, ErrReplyTimeout)
	assert.Equal(t, station.DeviceUnavailable, res)

	tr.mu.Lock()
	assert.Empty(t, tr.pending)
	tr.mu.Unlock()
}

func TestContextCancelStopsWait(t *testing.T) {
	mc := newMockClient()
	useMock(t, mc)
	cfg := testConfig()
	cfg.ReplyTimeoutMS = 60000

	tr, err := NewTransport(cfg, nil, nil)
	require.NoError(t, err)
	cli, _ := tr.Client(context.Background(), keyFor("CS1"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cli.RemoteStopTransaction(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryLogic(t *testing.T) {
	mc := newMockClient()
	mc.publishErrs = []error{errors.New("net fail"), nil}
	mc.onPublish = replyWith("Accepted")
	useMock(t, mc)
	cfg := testConfig()
	cfg.MaxRetries = 1

	tr, err := NewTransport(cfg, nil, nil)
	require.NoError(t, err)
	cli, _ := tr.Client(context.Background(), keyFor("CS1"))
	res, err := cli.RemoteStartTransaction(context.Background(), 1, "TAG1")
	require.NoError(t, err)
	assert.Equal(t, station.DeviceAccepted, res)
	assert.Len(t, mc.sent(), 2)
}

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Flush(time.Duration) {}

func TestPublishErrorCaptured(t *testing.T) {
	mc := newMockClient()
	fail := errors.New("net fail")
	mc.publishErrs = []error{fail, fail}
	useMock(t, mc)
	mon := &recordMonitor{}
	coremon.Init(mon)
	defer coremon.Init(coremon.NopMonitor{})
	cfg := testConfig()
	cfg.MaxRetries = 1

	tr, err := NewTransport(cfg, nil, nil)
	require.NoError(t, err)
	cli, _ := tr.Client(context.Background(), keyFor("CS7"))
	res, err := cli.RemoteStartTransaction(context.Background(), 1, "TAG1")
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, station.DeviceUnavailable, res)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	assert.ErrorIs(t, mon.err, fail)
	assert.Equal(t, "mqtt", mon.tags["module"])
	assert.Equal(t, "CS7", mon.tags["station_id"])
}

func TestOfflineStationHasNoClient(t *testing.T) {
	mc := newMockClient()
	useMock(t, mc)
	p := presence.NewMemory(time.Minute)
	require.NoError(t, p.Touch(context.Background(), "default", "CS1"))

	tr, err := NewTransport(testConfig(), p, nil)
	require.NoError(t, err)

	cli, err := tr.Client(context.Background(), keyFor("CS2"))
	require.NoError(t, err)
	assert.Nil(t, cli)

	cli, err = tr.Client(context.Background(), keyFor("CS1"))
	require.NoError(t, err)
	assert.NotNil(t, cli)

	res, err := station.NewDispatcher(tr).StartSession(context.Background(), "default",
		&model.ChargingStation{ID: "CS2", OCPPVersion: model.OCPPVersion16}, 1, "TAG1")
	require.NoError(t, err)
	assert.Equal(t, station.DeviceUnavailable, res)
	assert.Empty(t, mc.sent())
}

type ingestRecorder struct {
	mu   sync.Mutex
	raws []string
	err  error
}

func (r *ingestRecorder) HandleRaw(_ context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raws = append(r.raws, string(raw))
	return r.err
}

func TestNotificationsForwardedToIngest(t *testing.T) {
	mc := newMockClient()
	useMock(t, mc)
	rec := &ingestRecorder{}

	_, err := NewTransport(testConfig(), nil, rec)
	require.NoError(t, err)
	require.Contains(t, mc.subscribed, StatusTopic("ocpp"))
	require.Contains(t, mc.subscribed, HeartbeatTopic("ocpp"))

	mc.deliver(StatusTopic("ocpp"), "ocpp/default/CS1/status", []byte(`{"status":1}`))
	rec.err = errors.New("refused")
	mc.deliver(HeartbeatTopic("ocpp"), "ocpp/default/CS1/heartbeat", []byte(`{"heartbeat":1}`))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{`{"status":1}`, `{"heartbeat":1}`}, rec.raws)
}

func TestUnknownReplyIgnored(t *testing.T) {
	mc := newMockClient()
	useMock(t, mc)
	_, err := NewTransport(testConfig(), nil, nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		mc.deliver(ReplyTopic("ocpp"), "ocpp/default/CS1/1.6/reply", []byte(`{"command_id":"nope","status":"Accepted"}`))
		mc.deliver(ReplyTopic("ocpp"), "ocpp/default/CS1/1.6/reply", []byte(`not json`))
	})
}
