package model

import (
	"fmt"
	"time"

	ocppcore "github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
)

// OCPPVersion is the device protocol revision spoken by a station.
type OCPPVersion string

const (
	OCPPVersion15 OCPPVersion = "1.5"
	OCPPVersion16 OCPPVersion = "1.6"
)

// ConnectorStatus reuses the OCPP 1.6 charge point status vocabulary.
type ConnectorStatus = ocppcore.ChargePointStatus

const (
	StatusAvailable     = ocppcore.ChargePointStatusAvailable
	StatusPreparing     = ocppcore.ChargePointStatusPreparing
	StatusCharging      = ocppcore.ChargePointStatusCharging
	StatusSuspendedEV   = ocppcore.ChargePointStatusSuspendedEV
	StatusSuspendedEVSE = ocppcore.ChargePointStatusSuspendedEVSE
	StatusFinishing     = ocppcore.ChargePointStatusFinishing
	StatusReserved      = ocppcore.ChargePointStatusReserved
	StatusUnavailable   = ocppcore.ChargePointStatusUnavailable
	StatusFaulted       = ocppcore.ChargePointStatusFaulted
	// StatusOccupied only exists in OCPP 1.5.
	StatusOccupied ConnectorStatus = "Occupied"
)

// Connector is a single EVSE of a station, addressed by its 1-based position.
type Connector struct {
	ConnectorID         int             `json:"connectorId" yaml:"connector_id"`
	Status              ConnectorStatus `json:"status" yaml:"status"`
	ActiveTransactionID int             `json:"activeTransactionID,omitempty" yaml:"active_transaction_id,omitempty"`
	ActiveTagID         string          `json:"activeTagID,omitempty" yaml:"active_tag_id,omitempty"`
	StatusLastChangedOn time.Time       `json:"statusLastChangedOn,omitempty" yaml:"status_last_changed_on,omitempty"`
}

// RemoteAuthorization is an in-flight remote start grant for one connector.
type RemoteAuthorization struct {
	ID          string    `json:"id" yaml:"id"`
	ConnectorID int       `json:"connectorId" yaml:"connector_id"`
	TagID       string    `json:"tagId" yaml:"tag_id"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
}

// ChargingStation is the station document as held by the store.
type ChargingStation struct {
	ID                     string                `json:"id" yaml:"id"`
	SiteID                 string                `json:"siteID" yaml:"site_id"`
	Issuer                 bool                  `json:"issuer" yaml:"issuer"`
	Private                bool                  `json:"private" yaml:"private"`
	Deleted                bool                  `json:"deleted" yaml:"deleted"`
	Inactive               bool                  `json:"inactive" yaml:"inactive"`
	CannotChargeInParallel bool                  `json:"cannotChargeInParallel" yaml:"cannot_charge_in_parallel"`
	OCPPVersion            OCPPVersion           `json:"ocppVersion" yaml:"ocpp_version"`
	LastHeartbeat          time.Time             `json:"lastHeartBeat,omitempty" yaml:"last_heartbeat,omitempty"`
	Connectors             []*Connector          `json:"connectors" yaml:"connectors"`
	RemoteAuthorizations   []RemoteAuthorization `json:"remoteAuthorizations" yaml:"remote_authorizations"`
}

// Connector returns the connector with the given id or nil.
func (cs *ChargingStation) Connector(connectorID int) *Connector {
	for _, c := range cs.Connectors {
		if c != nil && c.ConnectorID == connectorID {
			return c
		}
	}
	return nil
}

// Authorization returns the remote authorization held for a connector, if any.
func (cs *ChargingStation) Authorization(connectorID int) *RemoteAuthorization {
	for i := range cs.RemoteAuthorizations {
		if cs.RemoteAuthorizations[i].ConnectorID == connectorID {
			return &cs.RemoteAuthorizations[i]
		}
	}
	return nil
}

// EvseUID builds the roaming EVSE reference of a connector.
func EvseUID(stationID string, connectorID int) string {
	return fmt.Sprintf("%s*%d", stationID, connectorID)
}

// Clone returns a deep copy of the station.
func (cs *ChargingStation) Clone() *ChargingStation {
	out := *cs
	out.Connectors = make([]*Connector, len(cs.Connectors))
	for i, c := range cs.Connectors {
		if c != nil {
			cc := *c
			out.Connectors[i] = &cc
		}
	}
	out.RemoteAuthorizations = append([]RemoteAuthorization(nil), cs.RemoteAuthorizations...)
	return &out
}
