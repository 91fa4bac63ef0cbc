package model

import (
	"strings"
	"time"
)

// CommandType identifies a roaming partner command.
type CommandType string

const (
	CommandStartSession    CommandType = "START_SESSION"
	CommandStopSession     CommandType = "STOP_SESSION"
	CommandReserveNow      CommandType = "RESERVE_NOW"
	CommandUnlockConnector CommandType = "UNLOCK_CONNECTOR"
)

// ParseCommandType maps a URL segment such as "start_session" or
// "START_SESSION" to a CommandType.
func ParseCommandType(s string) (CommandType, bool) {
	t := CommandType(strings.ToUpper(strings.ReplaceAll(s, "-", "_")))
	switch t {
	case CommandStartSession, CommandStopSession, CommandReserveNow, CommandUnlockConnector:
		return t, true
	}
	return "", false
}

// CommandResult is the outcome reported to the partner.
type CommandResult string

const (
	ResultAccepted     CommandResult = "ACCEPTED"
	ResultRejected     CommandResult = "REJECTED"
	ResultNotSupported CommandResult = "NOT_SUPPORTED"
)

// TokenRef references the partner token used to start a session.
type TokenRef struct {
	UID string `json:"uid"`
}

// StartSession is the body of a START_SESSION command.
type StartSession struct {
	ResponseURL     string   `json:"response_url"`
	Token           TokenRef `json:"token"`
	LocationID      string   `json:"location_id"`
	EvseUID         string   `json:"evse_uid"`
	AuthorizationID string   `json:"authorization_id"`
}

// StopSession is the body of a STOP_SESSION command.
type StopSession struct {
	ResponseURL string `json:"response_url"`
	SessionID   string `json:"session_id"`
}

// CommandResponse is the payload sent both synchronously and to the callback.
type CommandResponse struct {
	Result CommandResult `json:"result"`
}

// ConnectorStats is a fleet roll-up of connector and station availability.
type ConnectorStats struct {
	ChargingStations          int `json:"chargingStations"`
	AvailableChargingStations int `json:"availableChargingStations"`
	TotalConnectors           int `json:"totalConnectors"`
	AvailableConnectors       int `json:"availableConnectors"`
	ChargingConnectors        int `json:"chargingConnectors"`
	SuspendedConnectors       int `json:"suspendedConnectors"`
	UnavailableConnectors     int `json:"unavailableConnectors"`
	PreparingConnectors       int `json:"preparingConnectors"`
	FinishingConnectors       int `json:"finishingConnectors"`
	FaultedConnectors         int `json:"faultedConnectors"`
}

// CommandState is a step of a command's lifecycle.
type CommandState string

const (
	StateReceived     CommandState = "received"
	StateValidated    CommandState = "validated"
	StateAdmitted     CommandState = "admitted"
	StateRejected     CommandState = "rejected"
	StateNotSupported CommandState = "not_supported"
	StateFailed       CommandState = "failed"
	StateDispatching  CommandState = "dispatching"
	StateNotified     CommandState = "notified"
)

// Terminal reports whether no further transition leaves the state.
func (s CommandState) Terminal() bool {
	switch s {
	case StateRejected, StateNotSupported, StateFailed, StateNotified:
		return true
	}
	return false
}

// CommandRecord is the audit trail entry of a command that reached a
// terminal state.
type CommandRecord struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	TenantID     string        `json:"tenant_id"`
	Type         CommandType   `json:"type"`
	Result       CommandResult `json:"result"`
	Reason       string        `json:"reason,omitempty"`
	StationID    string        `json:"station_id,omitempty"`
	ConnectorID  int           `json:"connector_id,omitempty"`
	DeviceResult string        `json:"device_result,omitempty"`
	CallbackErr  string        `json:"callback_error,omitempty"`
	State        CommandState  `json:"state"`
}
