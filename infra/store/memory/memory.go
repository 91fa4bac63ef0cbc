// Package memory is an in-process store used for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/store"
)

type tenantData struct {
	tenant       model.Tenant
	stations     []*model.ChargingStation
	users        []model.User
	transactions []model.Transaction
	endpoints    []model.RoamingEndpoint
}

// Store keeps documents per tenant. Every read returns a copy.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]*tenantData
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{tenants: map[string]*tenantData{}}
}

// Seed replaces the documents of ds.Tenant.ID.
func (s *Store) Seed(_ context.Context, ds store.Dataset) error {
	if ds.Tenant.ID == "" {
		return fmt.Errorf("seed: tenant id is required")
	}
	td := &tenantData{
		tenant:       ds.Tenant,
		users:        append([]model.User(nil), ds.Users...),
		transactions: append([]model.Transaction(nil), ds.Transactions...),
		endpoints:    append([]model.RoamingEndpoint(nil), ds.Endpoints...),
	}
	for i := range ds.Stations {
		td.stations = append(td.stations, ds.Stations[i].Clone())
	}
	s.mu.Lock()
	s.tenants[ds.Tenant.ID] = td
	s.mu.Unlock()
	return nil
}

func (s *Store) TenantExists(_ context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[tenantID]
	return ok, nil
}

func (s *Store) GetStation(_ context.Context, tenantID, stationID string) (*model.ChargingStation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs := s.station(tenantID, stationID)
	if cs == nil {
		return nil, store.ErrNotFound
	}
	return cs.Clone(), nil
}

// ListStations returns matching stations in insertion order.
func (s *Store) ListStations(_ context.Context, tenantID string, f store.StationFilter) ([]model.ChargingStation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td := s.tenants[tenantID]
	if td == nil {
		return nil, nil
	}
	var out []model.ChargingStation
	for _, cs := range td.stations {
		if f.SiteID != "" && cs.SiteID != f.SiteID {
			continue
		}
		if f.IssuerOnly && !cs.Issuer {
			continue
		}
		if cs.Deleted && !f.IncludeDeleted {
			continue
		}
		out = append(out, *cs.Clone())
	}
	return out, nil
}

// GrantRemoteAuthorization applies the conditional write under the store lock.
func (s *Store) GrantRemoteAuthorization(_ context.Context, tenantID, stationID string, auth model.RemoteAuthorization, liveSince time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.station(tenantID, stationID)
	if cs == nil {
		return store.ErrNotFound
	}
	if existing := cs.Authorization(auth.ConnectorID); existing != nil {
		if existing.Timestamp.After(liveSince) {
			return store.ErrConflict
		}
		*existing = auth
		return nil
	}
	cs.RemoteAuthorizations = append(cs.RemoteAuthorizations, auth)
	return nil
}

func (s *Store) UpdateConnectorStatus(_ context.Context, tenantID, stationID string, connectorID int, status model.ConnectorStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.station(tenantID, stationID)
	if cs == nil {
		return store.ErrNotFound
	}
	c := cs.Connector(connectorID)
	if c == nil {
		c = &model.Connector{ConnectorID: connectorID}
		cs.Connectors = append(cs.Connectors, c)
	}
	c.Status = status
	c.StatusLastChangedOn = at
	return nil
}

func (s *Store) TouchHeartbeat(_ context.Context, tenantID, stationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := s.station(tenantID, stationID)
	if cs == nil {
		return store.ErrNotFound
	}
	cs.LastHeartbeat = at
	return nil
}

func (s *Store) FindUserByTag(_ context.Context, tenantID, tagID string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td := s.tenants[tenantID]
	if td == nil {
		return nil, store.ErrNotFound
	}
	for i := range td.users {
		if td.users[i].Tag(tagID) != nil {
			u := td.users[i]
			u.Tags = append([]model.Tag(nil), u.Tags...)
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindTransactionByRoamingSession(_ context.Context, tenantID, sessionID string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td := s.tenants[tenantID]
	if td == nil {
		return nil, store.ErrNotFound
	}
	for _, tx := range td.transactions {
		if tx.RoamingSessionID == sessionID {
			return &tx, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindEndpointByLocalToken(_ context.Context, tenantID, token string) (*model.RoamingEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td := s.tenants[tenantID]
	if td == nil {
		return nil, store.ErrNotFound
	}
	for _, ep := range td.endpoints {
		if ep.LocalToken == token {
			return &ep, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Close() error { return nil }

func (s *Store) station(tenantID, stationID string) *model.ChargingStation {
	td := s.tenants[tenantID]
	if td == nil {
		return nil
	}
	for _, cs := range td.stations {
		if cs.ID == stationID {
			return cs
		}
	}
	return nil
}
