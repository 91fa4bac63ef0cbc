// Package station issues remote start and stop commands to charging stations
// through protocol specific clients.
package station

import (
	"context"
	"fmt"

	"github.com/kilianp07/roamgate/core/model"
)

// DeviceResult is the outcome of a device command.
type DeviceResult string

const (
	DeviceAccepted    DeviceResult = "Accepted"
	DeviceRejected    DeviceResult = "Rejected"
	DeviceUnavailable DeviceResult = "Unavailable"
)

// Key identifies the client bound to a station.
type Key struct {
	TenantID  string
	StationID string
	Version   model.OCPPVersion
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.StationID, k.Version)
}

// Client talks to one station.
type Client interface {
	RemoteStartTransaction(ctx context.Context, connectorID int, tagID string) (DeviceResult, error)
	RemoteStopTransaction(ctx context.Context, transactionID int) (DeviceResult, error)
}

// ClientFactory returns the client of a station, or nil when the station
// cannot be reached right now.
type ClientFactory interface {
	Client(ctx context.Context, key Key) (Client, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context, key Key) (Client, error)

func (f ClientFactoryFunc) Client(ctx context.Context, key Key) (Client, error) { return f(ctx, key) }

// Dispatcher sends device commands. It never retries.
type Dispatcher struct {
	factory ClientFactory
}

// NewDispatcher creates a Dispatcher backed by factory.
func NewDispatcher(factory ClientFactory) *Dispatcher {
	return &Dispatcher{factory: factory}
}

// StartSession asks the station to start charging connectorID for tagID.
func (d *Dispatcher) StartSession(ctx context.Context, tenantID string, cs *model.ChargingStation, connectorID int, tagID string) (DeviceResult, error) {
	cli, err := d.client(ctx, tenantID, cs)
	if err != nil || cli == nil {
		return DeviceUnavailable, err
	}
	res, err := cli.RemoteStartTransaction(ctx, connectorID, tagID)
	if err != nil {
		return DeviceUnavailable, fmt.Errorf("remote start on %s: %w", cs.ID, err)
	}
	return res, nil
}

// StopSession asks the station to stop transactionID.
func (d *Dispatcher) StopSession(ctx context.Context, tenantID string, cs *model.ChargingStation, transactionID int) (DeviceResult, error) {
	cli, err := d.client(ctx, tenantID, cs)
	if err != nil || cli == nil {
		return DeviceUnavailable, err
	}
	res, err := cli.RemoteStopTransaction(ctx, transactionID)
	if err != nil {
		return DeviceUnavailable, fmt.Errorf("remote stop on %s: %w", cs.ID, err)
	}
	return res, nil
}

func (d *Dispatcher) client(ctx context.Context, tenantID string, cs *model.ChargingStation) (Client, error) {
	key := Key{TenantID: tenantID, StationID: cs.ID, Version: cs.OCPPVersion}
	cli, err := d.factory.Client(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("client for %s: %w", key, err)
	}
	return cli, nil
}

// Presence tracks which stations recently showed signs of life.
type Presence interface {
	Touch(ctx context.Context, tenantID, stationID string) error
	Online(ctx context.Context, tenantID, stationID string) (bool, error)
}
