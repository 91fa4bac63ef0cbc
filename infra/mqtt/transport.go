package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	ocppcore "github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	coremon "github.com/kilianp07/roamgate/core/monitoring"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/infra/logger"
)

// ErrReplyTimeout is returned when a station does not answer a command in time.
var ErrReplyTimeout = errors.New("timeout waiting for station reply")

const ingestTimeout = 10 * time.Second

// Ingestor consumes raw station notifications.
type Ingestor interface {
	HandleRaw(ctx context.Context, raw []byte) error
}

type commandMessage struct {
	CommandID string `json:"command_id"`
	Action    string `json:"action"`
	Payload   any    `json:"payload"`
}

type replyMessage struct {
	CommandID string                      `json:"command_id"`
	Status    types.RemoteStartStopStatus `json:"status"`
}

// Transport publishes device commands and correlates station replies. It
// implements station.ClientFactory.
type Transport struct {
	cli      pahoClient
	cfg      Config
	presence station.Presence
	ingest   Ingestor

	mu           sync.Mutex
	pending      map[string]chan types.RemoteStartStopStatus
	logger       logger.Logger
	backoff      time.Duration
	replyTimeout time.Duration
}

var _ station.ClientFactory = (*Transport)(nil)

// NewTransport connects to the broker and subscribes to the reply topic and,
// when ingest is set, to the status and heartbeat topics. A nil presence
// treats every station as reachable.
func NewTransport(cfg Config, presence station.Presence, ingest Ingestor) (*Transport, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.New("mqtt_transport")
	t := &Transport{
		cfg:          cfg,
		presence:     presence,
		ingest:       ingest,
		pending:      make(map[string]chan types.RemoteStartStopStatus),
		logger:       log,
		backoff:      time.Duration(cfg.BackoffMS) * time.Millisecond,
		replyTimeout: time.Duration(cfg.ReplyTimeoutMS) * time.Millisecond,
	}

	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		t.subscribe(c, ReplyTopic(cfg.TopicRoot), cfg.qos("reply"), t.onReply)
		if t.ingest != nil {
			t.subscribe(c, StatusTopic(cfg.TopicRoot), cfg.qos("status"), t.onNotification)
			t.subscribe(c, HeartbeatTopic(cfg.TopicRoot), cfg.qos("heartbeat"), t.onNotification)
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	t.cli = c
	return t, nil
}

func (t *Transport) subscribe(c paho.Client, topic string, qos byte, h paho.MessageHandler) {
	if token := c.Subscribe(topic, qos, h); token.Wait() && token.Error() != nil {
		t.logger.Errorf("subscribe %s: %v", topic, token.Error())
	}
}

// Client returns a command client for the station, or nil when presence
// reports it offline.
func (t *Transport) Client(ctx context.Context, key station.Key) (station.Client, error) {
	if t.presence != nil {
		online, err := t.presence.Online(ctx, key.TenantID, key.StationID)
		if err != nil {
			return nil, fmt.Errorf("presence of %s: %w", key, err)
		}
		if !online {
			t.logger.Debugf("station %s offline", key)
			return nil, nil
		}
	}
	return &stationClient{t: t, key: key}, nil
}

// Disconnect gracefully closes the MQTT connection.
func (t *Transport) Disconnect() {
	if t.cli != nil && t.cli.IsConnected() {
		t.cli.Disconnect(250)
	}
}

func (t *Transport) onReply(_ paho.Client, msg paho.Message) {
	var m replyMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		t.logger.Errorf("failed to decode reply on %s: %v", msg.Topic(), err)
		return
	}
	t.mu.Lock()
	ch, ok := t.pending[m.CommandID]
	t.mu.Unlock()
	if !ok {
		t.logger.Debugf("reply for unknown command %s", m.CommandID)
		return
	}
	select {
	case ch <- m.Status:
	default:
	}
}

func (t *Transport) onNotification(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()
	if err := t.ingest.HandleRaw(ctx, msg.Payload()); err != nil {
		t.logger.Warnf("notification on %s dropped: %v", msg.Topic(), err)
	}
}

func (t *Transport) call(ctx context.Context, key station.Key, action string, payload any) (station.DeviceResult, error) {
	cmdID := uuid.NewString()
	body, err := json.Marshal(commandMessage{CommandID: cmdID, Action: action, Payload: payload})
	if err != nil {
		return station.DeviceUnavailable, err
	}

	ch := make(chan types.RemoteStartStopStatus, 1)
	t.mu.Lock()
	t.pending[cmdID] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, cmdID)
		t.mu.Unlock()
	}()

	topic := CommandTopic(t.cfg.TopicRoot, key)
	if err := t.publish(topic, body); err != nil {
		coremon.CaptureException(err, map[string]string{
			"module":     "mqtt",
			"tenant_id":  key.TenantID,
			"station_id": key.StationID,
			"action":     action,
		})
		return station.DeviceUnavailable, err
	}
	t.logger.Infof("sent %s %s to %s", action, cmdID, topic)

	timer := time.NewTimer(t.replyTimeout)
	defer timer.Stop()
	select {
	case status := <-ch:
		switch status {
		case types.RemoteStartStopStatusAccepted:
			return station.DeviceAccepted, nil
		case types.RemoteStartStopStatusRejected:
			return station.DeviceRejected, nil
		default:
			return station.DeviceUnavailable, fmt.Errorf("unexpected reply status %q", status)
		}
	case <-timer.C:
		return station.DeviceUnavailable, fmt.Errorf("%w: %s", ErrReplyTimeout, cmdID)
	case <-ctx.Done():
		return station.DeviceUnavailable, ctx.Err()
	}
}

func (t *Transport) publish(topic string, payload []byte) error {
	qos := t.cfg.qos("command")
	var publishErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		token := t.cli.Publish(topic, qos, false, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			return nil
		}
		t.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < t.cfg.MaxRetries {
			time.Sleep(t.backoff * time.Duration(1<<attempt))
		}
	}
	return publishErr
}

type stationClient struct {
	t   *Transport
	key station.Key
}

func (c *stationClient) RemoteStartTransaction(ctx context.Context, connectorID int, tagID string) (station.DeviceResult, error) {
	req := ocppcore.NewRemoteStartTransactionRequest(tagID)
	req.ConnectorId = &connectorID
	return c.t.call(ctx, c.key, ocppcore.RemoteStartTransactionFeatureName, req)
}

func (c *stationClient) RemoteStopTransaction(ctx context.Context, transactionID int) (station.DeviceResult, error) {
	req := ocppcore.NewRemoteStopTransactionRequest(transactionID)
	return c.t.call(ctx, c.key, ocppcore.RemoteStopTransactionFeatureName, req)
}
