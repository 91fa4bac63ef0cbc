package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/store"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.NoError(t, s.Seed(context.Background(), store.Dataset{
		Tenant: model.Tenant{ID: "t1"},
		Stations: []model.ChargingStation{
			{ID: "CS1", SiteID: "site", Issuer: true, Connectors: []*model.Connector{{ConnectorID: 1, Status: model.StatusAvailable}}},
			{ID: "CS2", SiteID: "site", Issuer: false},
			{ID: "CS3", SiteID: "other", Issuer: true, Deleted: true},
		},
		Users:        []model.User{{ID: "u1", Tags: []model.Tag{{ID: "TAG1", Active: true}}}},
		Transactions: []model.Transaction{{ID: 7, RoamingSessionID: "sess-7"}},
		Endpoints:    []model.RoamingEndpoint{{ID: "ep", LocalToken: "local", Token: "remote"}},
	}))
	return s
}

func TestStoreReadsReturnCopies(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	cs, err := s.GetStation(ctx, "t1", "CS1")
	require.NoError(t, err)
	cs.Connectors[0].Status = model.StatusFaulted
	cs.RemoteAuthorizations = append(cs.RemoteAuthorizations, model.RemoteAuthorization{ID: "x"})

	again, err := s.GetStation(ctx, "t1", "CS1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAvailable, again.Connectors[0].Status)
	assert.Empty(t, again.RemoteAuthorizations)
}

func TestStoreListStationsFilter(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	all, err := s.ListStations(ctx, "t1", store.StationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	issuer, err := s.ListStations(ctx, "t1", store.StationFilter{SiteID: "site", IssuerOnly: true})
	require.NoError(t, err)
	require.Len(t, issuer, 1)
	assert.Equal(t, "CS1", issuer[0].ID)

	withDeleted, err := s.ListStations(ctx, "t1", store.StationFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, withDeleted, 3)
}

func TestStoreLookups(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	ok, err := s.TenantExists(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.TenantExists(ctx, "t2")
	assert.False(t, ok)

	u, err := s.FindUserByTag(ctx, "t1", "TAG1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	_, err = s.FindUserByTag(ctx, "t1", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	tx, err := s.FindTransactionByRoamingSession(ctx, "t1", "sess-7")
	require.NoError(t, err)
	assert.Equal(t, 7, tx.ID)
	_, err = s.FindTransactionByRoamingSession(ctx, "t1", "sess-8")
	assert.ErrorIs(t, err, store.ErrNotFound)

	ep, err := s.FindEndpointByLocalToken(ctx, "t1", "local")
	require.NoError(t, err)
	assert.Equal(t, "remote", ep.Token)
	_, err = s.GetStation(ctx, "t2", "CS1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGrantRemoteAuthorizationConditional(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	now := time.Now()
	window := 2 * time.Minute

	first := model.RemoteAuthorization{ID: "a1", ConnectorID: 1, TagID: "TAG1", Timestamp: now}
	require.NoError(t, s.GrantRemoteAuthorization(ctx, "t1", "CS1", first, now.Add(-window)))

	second := model.RemoteAuthorization{ID: "a2", ConnectorID: 1, TagID: "TAG1", Timestamp: now.Add(time.Second)}
	err := s.GrantRemoteAuthorization(ctx, "t1", "CS1", second, second.Timestamp.Add(-window))
	assert.ErrorIs(t, err, store.ErrConflict)

	later := now.Add(window + time.Second)
	third := model.RemoteAuthorization{ID: "a3", ConnectorID: 1, TagID: "TAG2", Timestamp: later}
	require.NoError(t, s.GrantRemoteAuthorization(ctx, "t1", "CS1", third, later.Add(-window)))

	cs, err := s.GetStation(ctx, "t1", "CS1")
	require.NoError(t, err)
	require.Len(t, cs.RemoteAuthorizations, 1)
	assert.Equal(t, "a3", cs.RemoteAuthorizations[0].ID)
}

func TestGrantRemoteAuthorizationConcurrent(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			auth := model.RemoteAuthorization{ID: "a", ConnectorID: 1, Timestamp: now}
			results <- s.GrantRemoteAuthorization(ctx, "t1", "CS1", auth, now.Add(-time.Minute))
		}()
	}
	wg.Wait()
	close(results)
	granted := 0
	for err := range results {
		if err == nil {
			granted++
		} else {
			assert.ErrorIs(t, err, store.ErrConflict)
		}
	}
	assert.Equal(t, 1, granted)
}

func TestUpdateConnectorStatusAndHeartbeat(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	at := time.Now()
	require.NoError(t, s.UpdateConnectorStatus(ctx, "t1", "CS1", 1, model.StatusCharging, at))
	require.NoError(t, s.UpdateConnectorStatus(ctx, "t1", "CS1", 2, model.StatusAvailable, at))
	require.NoError(t, s.TouchHeartbeat(ctx, "t1", "CS1", at))
	assert.ErrorIs(t, s.TouchHeartbeat(ctx, "t1", "missing", at), store.ErrNotFound)

	cs, err := s.GetStation(ctx, "t1", "CS1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCharging, cs.Connector(1).Status)
	assert.Equal(t, model.StatusAvailable, cs.Connector(2).Status)
	assert.True(t, cs.LastHeartbeat.Equal(at))
}
