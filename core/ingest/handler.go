package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ocppcore "github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"github.com/kilianp07/roamgate/core/events"
	"github.com/kilianp07/roamgate/core/logger"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/tenant"
	"github.com/kilianp07/roamgate/internal/eventbus"
)

// ErrUnsupportedAction is returned for device actions this boundary ignores.
var ErrUnsupportedAction = errors.New("unsupported device action")

// Message is a device notification: transport headers plus the OCPP payload.
type Message struct {
	Headers  map[string]any  `json:"headers"`
	Endpoint string          `json:"endpoint,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// Handler applies station status and heartbeat notifications.
type Handler struct {
	resolver *tenant.Resolver
	stations store.StationStore
	presence station.Presence
	events   *eventbus.TypedBus[events.StationEvent]
	log      logger.Logger
	now      func() time.Time
}

// NewHandler creates a Handler. presence and bus may be nil.
func NewHandler(resolver *tenant.Resolver, stations store.StationStore, presence station.Presence, bus *eventbus.TypedBus[events.StationEvent], log logger.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		stations: stations,
		presence: presence,
		events:   bus,
		log:      log,
		now:      time.Now,
	}
}

// HandleRaw decodes a Message and handles it.
func (h *Handler) HandleRaw(ctx context.Context, raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode device message: %w", err)
	}
	return h.Handle(ctx, msg)
}

// Handle checks the identity of msg and dispatches on its Action header.
func (h *Handler) Handle(ctx context.Context, msg Message) error {
	if msg.Headers == nil {
		msg.Headers = map[string]any{}
	}
	id, err := Check(ctx, h.resolver, msg.Headers, msg.Endpoint)
	if err != nil {
		h.log.Warnf("device message refused: %v", err)
		return err
	}
	switch id.Action {
	case ocppcore.StatusNotificationFeatureName:
		return h.status(ctx, id, msg.Payload)
	case ocppcore.HeartbeatFeatureName:
		return h.heartbeat(ctx, id)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, id.Action)
	}
}

func (h *Handler) status(ctx context.Context, id Identity, payload json.RawMessage) error {
	var req ocppcore.StatusNotificationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode status notification: %w", err)
	}
	at := h.now()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		at = req.Timestamp.Time
	}
	// Connector 0 addresses the station itself.
	if req.ConnectorId > 0 {
		if err := h.stations.UpdateConnectorStatus(ctx, id.TenantID, id.StationID, req.ConnectorId, req.Status, at); err != nil {
			return fmt.Errorf("update connector %d of %s: %w", req.ConnectorId, id.StationID, err)
		}
	}
	h.touch(ctx, id)
	h.log.Debugw("connector status", logger.Fields{
		"tenant_id":    id.TenantID,
		"station_id":   id.StationID,
		"connector_id": req.ConnectorId,
		"status":       string(req.Status),
	})
	h.publish(events.StationEvent{
		Kind:        events.StationStatus,
		TenantID:    id.TenantID,
		StationID:   id.StationID,
		ConnectorID: req.ConnectorId,
		Status:      req.Status,
		Time:        at,
	})
	return nil
}

func (h *Handler) heartbeat(ctx context.Context, id Identity) error {
	at := h.now()
	if err := h.stations.TouchHeartbeat(ctx, id.TenantID, id.StationID, at); err != nil {
		return fmt.Errorf("heartbeat of %s: %w", id.StationID, err)
	}
	h.touch(ctx, id)
	h.publish(events.StationEvent{
		Kind:      events.StationHeartbeat,
		TenantID:  id.TenantID,
		StationID: id.StationID,
		Time:      at,
	})
	return nil
}

func (h *Handler) touch(ctx context.Context, id Identity) {
	if h.presence == nil {
		return
	}
	if err := h.presence.Touch(ctx, id.TenantID, id.StationID); err != nil {
		h.log.Warnf("presence of %s/%s not refreshed: %v", id.TenantID, id.StationID, err)
	}
}

func (h *Handler) publish(ev events.StationEvent) {
	if h.events != nil {
		h.events.Publish(ev)
	}
}
