package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	ocppcore "github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"

	"github.com/kilianp07/roamgate/core/ingest"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/infra/mqtt"
)

type command struct {
	CommandID string          `json:"command_id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
}

type reply struct {
	CommandID string                      `json:"command_id"`
	Status    types.RemoteStartStopStatus `json:"status"`
}

type connectorState struct {
	status        model.ConnectorStatus
	transactionID int
}

// SimulatedStation answers remote start/stop commands and reports its
// connector statuses and heartbeats.
type SimulatedStation struct {
	ID       string
	Strategy AckStrategy

	cfg Config
	key station.Key
	pub Publisher

	mu         sync.Mutex
	connectors []connectorState
	nextTx     int
}

// NewSimulatedStation creates a station with cfg.Connectors Available
// connectors.
func NewSimulatedStation(id string, cfg Config, strat AckStrategy, pub Publisher) *SimulatedStation {
	conns := make([]connectorState, cfg.Connectors)
	for i := range conns {
		conns[i].status = model.StatusAvailable
	}
	return &SimulatedStation{
		ID:         id,
		Strategy:   strat,
		cfg:        cfg,
		key:        station.Key{TenantID: cfg.TenantID, StationID: id, Version: model.OCPPVersion(cfg.Version)},
		pub:        pub,
		connectors: conns,
		nextTx:     1,
	}
}

// Status returns the status of connector id (1-based).
func (s *SimulatedStation) Status(id int) model.ConnectorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > len(s.connectors) {
		return ""
	}
	return s.connectors[id-1].status
}

// Run subscribes to the station command topic and sends heartbeats until
// ctx is done.
func (s *SimulatedStation) Run(ctx context.Context, cli paho.Client) error {
	topic := mqtt.CommandTopic(s.cfg.TopicRoot, s.key)
	handler := func(_ paho.Client, msg paho.Message) {
		go func(payload []byte) {
			if err := s.HandleCommand(ctx, payload); err != nil {
				log.Printf("%s: %v", s.ID, err)
			}
		}(msg.Payload())
	}
	if token := cli.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer cli.Unsubscribe(topic)

	for i := range s.connectors {
		if err := s.publishStatus(i+1, model.StatusAvailable); err != nil {
			log.Printf("%s: %v", s.ID, err)
		}
	}
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.Heartbeat(); err != nil {
			log.Printf("%s: %v", s.ID, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// HandleCommand applies a command published by the gateway and replies
// according to the ack strategy.
func (s *SimulatedStation) HandleCommand(ctx context.Context, payload []byte) error {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	status, ok := s.Strategy.Ack(ctx)
	if !ok {
		return nil
	}
	var changed func() error
	if status == types.RemoteStartStopStatusAccepted {
		var err error
		status, changed, err = s.apply(cmd)
		if err != nil {
			return err
		}
	}
	if err := s.publishJSON(mqtt.StationReplyTopic(s.cfg.TopicRoot, s.key), reply{CommandID: cmd.CommandID, Status: status}); err != nil {
		return err
	}
	if changed != nil {
		return changed()
	}
	return nil
}

// apply updates connector state. It returns the status to reply with and,
// for accepted commands, the notification to send afterwards.
func (s *SimulatedStation) apply(cmd command) (types.RemoteStartStopStatus, func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd.Action {
	case ocppcore.RemoteStartTransactionFeatureName:
		var req ocppcore.RemoteStartTransactionRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return "", nil, fmt.Errorf("decode %s: %w", cmd.Action, err)
		}
		id := 1
		if req.ConnectorId != nil {
			id = *req.ConnectorId
		}
		if id < 1 || id > len(s.connectors) || s.connectors[id-1].status != model.StatusAvailable {
			return types.RemoteStartStopStatusRejected, nil, nil
		}
		s.connectors[id-1] = connectorState{status: model.StatusCharging, transactionID: s.nextTx}
		s.nextTx++
		return types.RemoteStartStopStatusAccepted, func() error { return s.publishStatus(id, model.StatusCharging) }, nil
	case ocppcore.RemoteStopTransactionFeatureName:
		var req ocppcore.RemoteStopTransactionRequest
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return "", nil, fmt.Errorf("decode %s: %w", cmd.Action, err)
		}
		for i := range s.connectors {
			if s.connectors[i].transactionID == req.TransactionId && s.connectors[i].status == model.StatusCharging {
				s.connectors[i] = connectorState{status: model.StatusAvailable}
				id := i + 1
				return types.RemoteStartStopStatusAccepted, func() error { return s.publishStatus(id, model.StatusAvailable) }, nil
			}
		}
		return types.RemoteStartStopStatusRejected, nil, nil
	}
	return types.RemoteStartStopStatusRejected, nil, nil
}

// Heartbeat publishes a Heartbeat notification.
func (s *SimulatedStation) Heartbeat() error {
	return s.notify(mqtt.StationHeartbeatTopic(s.cfg.TopicRoot, s.cfg.TenantID, s.ID), ocppcore.HeartbeatFeatureName, ocppcore.NewHeartbeatRequest())
}

func (s *SimulatedStation) publishStatus(connectorID int, status model.ConnectorStatus) error {
	req := ocppcore.NewStatusNotificationRequest(connectorID, ocppcore.NoError, status)
	req.Timestamp = types.NewDateTime(time.Now())
	return s.notify(mqtt.StationStatusTopic(s.cfg.TopicRoot, s.cfg.TenantID, s.ID), ocppcore.StatusNotificationFeatureName, req)
}

func (s *SimulatedStation) notify(topic, action string, req any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return s.publishJSON(topic, ingest.Message{
		Headers: map[string]any{
			ingest.HeaderChargeBoxIdentity: s.ID,
			ingest.HeaderAction:            action,
			ingest.HeaderTo:                s.cfg.endpointURL(),
		},
		Payload: payload,
	})
}

func (s *SimulatedStation) publishJSON(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(topic, b); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
