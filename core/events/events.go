package events

import (
	"time"

	"github.com/kilianp07/roamgate/core/model"
)

// CommandEvent is published once per command, when it reaches Rejected,
// NotSupported, Failed or Notified.
type CommandEvent struct {
	Record model.CommandRecord
	// Latency is the device round trip, zero when nothing was dispatched.
	Latency time.Duration
}

// StationEventKind distinguishes station events.
type StationEventKind string

const (
	StationStatus    StationEventKind = "status"
	StationHeartbeat StationEventKind = "heartbeat"
)

// StationEvent is published for each accepted device notification.
type StationEvent struct {
	Kind        StationEventKind
	TenantID    string
	StationID   string
	ConnectorID int
	Status      model.ConnectorStatus
	Time        time.Time
}
