package metrics

import (
	"time"

	"github.com/kilianp07/roamgate/core/model"
)

// CommandResult is a roaming command that reached a terminal state.
type CommandResult struct {
	CommandID    string
	TenantID     string
	Type         model.CommandType
	Result       model.CommandResult
	Reason       string
	StationID    string
	DeviceResult string
	CallbackOK   bool
	Time         time.Time
}

// MetricsSink records command outcomes for observability purposes.
type MetricsSink interface {
	RecordCommandResult(res CommandResult) error
}

// DispatchLatency is the device round trip of a dispatched command.
type DispatchLatency struct {
	TenantID     string
	StationID    string
	Type         model.CommandType
	DeviceResult string
	Latency      time.Duration
}

// LatencyRecorder is implemented by sinks able to record dispatch latency.
type LatencyRecorder interface {
	RecordDispatchLatency(lat DispatchLatency) error
}

// StationStatusEvent is a connector status reported by a station.
type StationStatusEvent struct {
	TenantID    string
	StationID   string
	ConnectorID int
	Status      model.ConnectorStatus
	Time        time.Time
}

// StationStatusRecorder records connector status changes.
type StationStatusRecorder interface {
	RecordStationStatus(ev StationStatusEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCommandResult(CommandResult) error { return nil }

func (NopSink) RecordDispatchLatency(DispatchLatency) error { return nil }

func (NopSink) RecordStationStatus(StationStatusEvent) error { return nil }
