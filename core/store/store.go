// Package store defines the persistence contracts used by the gateway.
// Adapters live under infra/store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/roamgate/core/model"
)

var (
	// ErrNotFound is returned when the requested document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by conditional writes whose precondition no
	// longer holds.
	ErrConflict = errors.New("conflicting write")
)

// StationFilter restricts ListStations results.
type StationFilter struct {
	SiteID         string
	IssuerOnly     bool
	IncludeDeleted bool
}

// TenantStore answers tenant existence checks.
type TenantStore interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
}

// StationStore reads stations and applies the narrow writes the gateway and
// the device ingestion path need.
type StationStore interface {
	GetStation(ctx context.Context, tenantID, stationID string) (*model.ChargingStation, error)
	ListStations(ctx context.Context, tenantID string, f StationFilter) ([]model.ChargingStation, error)
	// GrantRemoteAuthorization stores auth for its connector, replacing any
	// previous entry, only if no entry for that connector has a timestamp
	// after liveSince. Otherwise it returns ErrConflict.
	GrantRemoteAuthorization(ctx context.Context, tenantID, stationID string, auth model.RemoteAuthorization, liveSince time.Time) error
	UpdateConnectorStatus(ctx context.Context, tenantID, stationID string, connectorID int, status model.ConnectorStatus, at time.Time) error
	TouchHeartbeat(ctx context.Context, tenantID, stationID string, at time.Time) error
}

// UserStore resolves users by the tags they own.
type UserStore interface {
	FindUserByTag(ctx context.Context, tenantID, tagID string) (*model.User, error)
}

// TransactionStore resolves transactions by their roaming session reference.
type TransactionStore interface {
	FindTransactionByRoamingSession(ctx context.Context, tenantID, sessionID string) (*model.Transaction, error)
}

// EndpointStore resolves roaming partner endpoints.
type EndpointStore interface {
	FindEndpointByLocalToken(ctx context.Context, tenantID, token string) (*model.RoamingEndpoint, error)
}

// Dataset groups the documents of one tenant for seeding.
type Dataset struct {
	Tenant       model.Tenant            `yaml:"tenant"`
	Stations     []model.ChargingStation `yaml:"stations"`
	Users        []model.User            `yaml:"users"`
	Transactions []model.Transaction     `yaml:"transactions"`
	Endpoints    []model.RoamingEndpoint `yaml:"endpoints"`
}

// Store is the full persistence surface.
type Store interface {
	TenantStore
	StationStore
	UserStore
	TransactionStore
	EndpointStore
	Seed(ctx context.Context, ds Dataset) error
	Close() error
}
