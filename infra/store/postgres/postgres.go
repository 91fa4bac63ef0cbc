// Package postgres stores tenants and their documents in PostgreSQL.
//
// Stations, users, transactions and endpoints are kept as jsonb documents
// next to the few columns used for lookups. Writes to a station document
// happen inside a transaction holding the row lock, so concurrent grants for
// the same connector are serialized by the database.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/store"
)

// Store is a pgxpool backed store.Store.
type Store struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to databaseURL and checks the connection.
func New(ctx context.Context, databaseURL string, maxConns int32) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateTenants,
		migrationCreateStations,
		migrationCreateStationsSiteIndex,
		migrationCreateUsers,
		migrationCreateTransactions,
		migrationCreateEndpoints,
	}
	for _, m := range migrations {
		if _, err := s.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

const migrationCreateTenants = `
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    subdomain TEXT NOT NULL DEFAULT ''
)`

const migrationCreateStations = `
CREATE TABLE IF NOT EXISTS stations (
    seq BIGSERIAL,
    tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    site_id TEXT NOT NULL DEFAULT '',
    issuer BOOLEAN NOT NULL DEFAULT FALSE,
    deleted BOOLEAN NOT NULL DEFAULT FALSE,
    doc JSONB NOT NULL,
    PRIMARY KEY (tenant_id, id)
)`

const migrationCreateStationsSiteIndex = `
CREATE INDEX IF NOT EXISTS stations_site_idx ON stations (tenant_id, site_id, seq)`

const migrationCreateUsers = `
CREATE TABLE IF NOT EXISTS users (
    tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    doc JSONB NOT NULL,
    PRIMARY KEY (tenant_id, id)
)`

const migrationCreateTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    id INTEGER NOT NULL,
    roaming_session_id TEXT NOT NULL DEFAULT '',
    doc JSONB NOT NULL,
    PRIMARY KEY (tenant_id, id)
)`

const migrationCreateEndpoints = `
CREATE TABLE IF NOT EXISTS endpoints (
    tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    local_token TEXT NOT NULL,
    doc JSONB NOT NULL,
    PRIMARY KEY (tenant_id, id)
)`

// Seed replaces every document of ds.Tenant.ID in a single transaction.
func (s *Store) Seed(ctx context.Context, ds store.Dataset) error {
	if ds.Tenant.ID == "" {
		return fmt.Errorf("seed: tenant id is required")
	}
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO tenants (id, name, subdomain) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, subdomain = EXCLUDED.subdomain`,
		ds.Tenant.ID, ds.Tenant.Name, ds.Tenant.Subdomain); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	for _, table := range []string{"stations", "users", "transactions", "endpoints"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE tenant_id = $1", ds.Tenant.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for i := range ds.Stations {
		cs := &ds.Stations[i]
		doc, err := json.Marshal(cs)
		if err != nil {
			return fmt.Errorf("encode station %s: %w", cs.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO stations (tenant_id, id, site_id, issuer, deleted, doc)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			ds.Tenant.ID, cs.ID, cs.SiteID, cs.Issuer, cs.Deleted, doc); err != nil {
			return fmt.Errorf("insert station %s: %w", cs.ID, err)
		}
	}
	for _, u := range ds.Users {
		doc, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user %s: %w", u.ID, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO users (tenant_id, id, doc) VALUES ($1, $2, $3)`,
			ds.Tenant.ID, u.ID, doc); err != nil {
			return fmt.Errorf("insert user %s: %w", u.ID, err)
		}
	}
	for _, t := range ds.Transactions {
		doc, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode transaction %d: %w", t.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO transactions (tenant_id, id, roaming_session_id, doc) VALUES ($1, $2, $3, $4)`,
			ds.Tenant.ID, t.ID, t.RoamingSessionID, doc); err != nil {
			return fmt.Errorf("insert transaction %d: %w", t.ID, err)
		}
	}
	for _, ep := range ds.Endpoints {
		doc, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("encode endpoint %s: %w", ep.ID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO endpoints (tenant_id, id, local_token, doc) VALUES ($1, $2, $3, $4)`,
			ds.Tenant.ID, ep.ID, ep.LocalToken, doc); err != nil {
			return fmt.Errorf("insert endpoint %s: %w", ep.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func (s *Store) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query tenant: %w", err)
	}
	return exists, nil
}

func (s *Store) GetStation(ctx context.Context, tenantID, stationID string) (*model.ChargingStation, error) {
	var doc []byte
	err := s.Pool.QueryRow(ctx, `SELECT doc FROM stations WHERE tenant_id = $1 AND id = $2`,
		tenantID, stationID).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "get station")
	}
	var cs model.ChargingStation
	if err := json.Unmarshal(doc, &cs); err != nil {
		return nil, fmt.Errorf("decode station %s: %w", stationID, err)
	}
	return &cs, nil
}

// ListStations returns matching stations in insertion order.
func (s *Store) ListStations(ctx context.Context, tenantID string, f store.StationFilter) ([]model.ChargingStation, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT doc FROM stations
		WHERE tenant_id = $1
		  AND ($2 = '' OR site_id = $2)
		  AND (NOT $3 OR issuer)
		  AND ($4 OR NOT deleted)
		ORDER BY seq`,
		tenantID, f.SiteID, f.IssuerOnly, f.IncludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var out []model.ChargingStation
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		var cs model.ChargingStation
		if err := json.Unmarshal(doc, &cs); err != nil {
			return nil, fmt.Errorf("decode station: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// GrantRemoteAuthorization applies the conditional write while holding the
// station row lock.
func (s *Store) GrantRemoteAuthorization(ctx context.Context, tenantID, stationID string, auth model.RemoteAuthorization, liveSince time.Time) error {
	return s.updateStation(ctx, tenantID, stationID, func(cs *model.ChargingStation) error {
		if existing := cs.Authorization(auth.ConnectorID); existing != nil {
			if existing.Timestamp.After(liveSince) {
				return store.ErrConflict
			}
			*existing = auth
			return nil
		}
		cs.RemoteAuthorizations = append(cs.RemoteAuthorizations, auth)
		return nil
	})
}

func (s *Store) UpdateConnectorStatus(ctx context.Context, tenantID, stationID string, connectorID int, status model.ConnectorStatus, at time.Time) error {
	return s.updateStation(ctx, tenantID, stationID, func(cs *model.ChargingStation) error {
		c := cs.Connector(connectorID)
		if c == nil {
			c = &model.Connector{ConnectorID: connectorID}
			cs.Connectors = append(cs.Connectors, c)
		}
		c.Status = status
		c.StatusLastChangedOn = at
		return nil
	})
}

func (s *Store) TouchHeartbeat(ctx context.Context, tenantID, stationID string, at time.Time) error {
	return s.updateStation(ctx, tenantID, stationID, func(cs *model.ChargingStation) error {
		cs.LastHeartbeat = at
		return nil
	})
}

func (s *Store) updateStation(ctx context.Context, tenantID, stationID string, mutate func(cs *model.ChargingStation) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin station update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM stations WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, stationID).Scan(&doc)
	if err != nil {
		return notFound(err, "lock station")
	}
	var cs model.ChargingStation
	if err := json.Unmarshal(doc, &cs); err != nil {
		return fmt.Errorf("decode station %s: %w", stationID, err)
	}
	if err := mutate(&cs); err != nil {
		return err
	}
	if doc, err = json.Marshal(&cs); err != nil {
		return fmt.Errorf("encode station %s: %w", stationID, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE stations SET doc = $3 WHERE tenant_id = $1 AND id = $2`,
		tenantID, stationID, doc); err != nil {
		return fmt.Errorf("update station %s: %w", stationID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit station %s: %w", stationID, err)
	}
	return nil
}

func (s *Store) FindUserByTag(ctx context.Context, tenantID, tagID string) (*model.User, error) {
	var doc []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT doc FROM users
		WHERE tenant_id = $1 AND doc->'tags' @> jsonb_build_array(jsonb_build_object('id', $2::text))
		LIMIT 1`, tenantID, tagID).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "find user by tag")
	}
	var u model.User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

func (s *Store) FindTransactionByRoamingSession(ctx context.Context, tenantID, sessionID string) (*model.Transaction, error) {
	var doc []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT doc FROM transactions WHERE tenant_id = $1 AND roaming_session_id = $2
		ORDER BY id LIMIT 1`, tenantID, sessionID).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "find transaction")
	}
	var t model.Transaction
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &t, nil
}

func (s *Store) FindEndpointByLocalToken(ctx context.Context, tenantID, token string) (*model.RoamingEndpoint, error) {
	var doc []byte
	err := s.Pool.QueryRow(ctx, `
		SELECT doc FROM endpoints WHERE tenant_id = $1 AND local_token = $2
		LIMIT 1`, tenantID, token).Scan(&doc)
	if err != nil {
		return nil, notFound(err, "find endpoint")
	}
	var ep model.RoamingEndpoint
	if err := json.Unmarshal(doc, &ep); err != nil {
		return nil, fmt.Errorf("decode endpoint: %w", err)
	}
	return &ep, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
