package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/roamgate/core/authz"
	"github.com/kilianp07/roamgate/core/callback"
	"github.com/kilianp07/roamgate/core/events"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/tenant"
	"github.com/kilianp07/roamgate/infra/logger"
	"github.com/kilianp07/roamgate/infra/store/memory"
	"github.com/kilianp07/roamgate/internal/eventbus"
	"github.com/kilianp07/roamgate/internal/workqueue"
)

const tenantID = model.DefaultTenantID

type receivedCallback struct {
	auth string
	body model.CommandResponse
}

type harness struct {
	gw        *Gateway
	store     *memory.Store
	factory   *station.MockFactory
	client    *station.MockClient
	callbacks chan receivedCallback
	events    <-chan events.CommandEvent
	ep        *model.RoamingEndpoint
	cbURL     string
}

func dataset() store.Dataset {
	stopped := time.Now().Add(-time.Hour)
	return store.Dataset{
		Tenant: model.Tenant{ID: tenantID},
		Stations: []model.ChargingStation{
			{
				ID: "CS1", SiteID: "site1", Issuer: true, OCPPVersion: model.OCPPVersion16,
				Connectors: []*model.Connector{
					{ConnectorID: 1, Status: model.StatusAvailable},
					{ConnectorID: 2, Status: model.StatusAvailable},
				},
			},
			{
				ID: "CS2", SiteID: "site1", Issuer: true, OCPPVersion: model.OCPPVersion16,
				Connectors: []*model.Connector{{ConnectorID: 1, Status: model.StatusAvailable}},
			},
		},
		Users: []model.User{
			{ID: "roaming", Tags: []model.Tag{{ID: "TAG1", Active: true, RoamingToken: &model.RoamingToken{UID: "TAG1", Valid: true}}}},
		},
		Transactions: []model.Transaction{
			{ID: 10, ChargeBoxID: "CS1", ConnectorID: 1, Issuer: true, RoamingSessionID: "s-run"},
			{ID: 11, ChargeBoxID: "CS1", ConnectorID: 1, Issuer: true, RoamingSessionID: "s-stop", StoppedAt: &stopped},
			{ID: 12, ChargeBoxID: "CS1", ConnectorID: 1, Issuer: false, RoamingSessionID: "s-foreign"},
			{ID: 13, ChargeBoxID: "GHOST", ConnectorID: 1, Issuer: true, RoamingSessionID: "s-ghost"},
		},
		Endpoints: []model.RoamingEndpoint{{ID: "ep1", LocalToken: "local", Token: "remote-token"}},
	}
}

func newHarness(t *testing.T, mutate func(ds *store.Dataset)) *harness {
	t.Helper()
	ds := dataset()
	if mutate != nil {
		mutate(&ds)
	}
	st := memory.New()
	require.NoError(t, st.Seed(context.Background(), ds))

	h := &harness{
		store:     st,
		factory:   station.NewMockFactory(),
		callbacks: make(chan receivedCallback, 16),
		ep:        &ds.Endpoints[0],
	}
	h.client = h.factory.Online("CS1")
	h.factory.Online("CS2")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body model.CommandResponse
		_ = json.Unmarshal(data, &body)
		h.callbacks <- receivedCallback{auth: r.Header.Get("Authorization"), body: body}
		_, _ = w.Write([]byte(`{"status_code":1000}`))
	}))
	t.Cleanup(srv.Close)
	h.cbURL = srv.URL + "/callback"

	queue := workqueue.New(2, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Close(ctx)
	})
	bus := eventbus.NewTyped[events.CommandEvent](eventbus.WithBuffer(64))
	h.events = bus.Subscribe()

	gw, err := New(Deps{
		Tenants:    tenant.NewResolver(st, nil),
		Store:      st,
		Ledger:     authz.NewLedger(authz.DefaultValidity),
		Dispatcher: station.NewDispatcher(h.factory),
		Notifier:   callback.NewNotifier(time.Second),
		Queue:      queue,
		Events:     bus,
		Logger:     logger.NopLogger{},
	})
	require.NoError(t, err)
	h.gw = gw
	return h
}

func (h *harness) start(evse, authID string) model.StartSession {
	return model.StartSession{
		ResponseURL:     h.cbURL,
		Token:           model.TokenRef{UID: "TAG1"},
		LocationID:      "site1",
		EvseUID:         evse,
		AuthorizationID: authID,
	}
}

func (h *harness) stop(session string) model.StopSession {
	return model.StopSession{ResponseURL: h.cbURL, SessionID: session}
}

func (h *harness) waitCallback(t *testing.T) receivedCallback {
	t.Helper()
	select {
	case cb := <-h.callbacks:
		return cb
	case <-time.After(2 * time.Second):
		t.Fatal("callback not received")
	}
	return receivedCallback{}
}

func (h *harness) waitEvent(t *testing.T, state model.CommandState) events.CommandEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Record.State == state {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", state)
		}
	}
}

func TestStartSessionAccepted(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.gw.StartSession(ctx, tenantID, h.ep, h.start("CS1*1", "auth-1"))
	require.NoError(t, err)
	assert.Equal(t, model.ResultAccepted, res)

	cs, err := h.store.GetStation(ctx, tenantID, "CS1")
	require.NoError(t, err)
	auth := cs.Authorization(1)
	require.NotNil(t, auth)
	assert.Equal(t, "auth-1", auth.ID)
	assert.Equal(t, "TAG1", auth.TagID)

	cb := h.waitCallback(t)
	assert.Equal(t, "Token remote-token", cb.auth)
	assert.Equal(t, model.ResultAccepted, cb.body.Result)
	assert.Equal(t, []station.StartCall{{StationID: "CS1", ConnectorID: 1, TagID: "TAG1"}}, h.client.Starts())

	ev := h.waitEvent(t, model.StateNotified)
	assert.Equal(t, "Accepted", ev.Record.DeviceResult)
	assert.Empty(t, ev.Record.CallbackErr)
}

func TestStartSessionRepeatedIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.gw.StartSession(ctx, tenantID, h.ep, h.start("CS1*1", "auth-1"))
	require.NoError(t, err)
	require.Equal(t, model.ResultAccepted, res)

	res, err = h.gw.StartSession(ctx, tenantID, h.ep, h.start("CS1*1", "auth-2"))
	require.NoError(t, err)
	assert.Equal(t, model.ResultRejected, res)

	cs, err := h.store.GetStation(ctx, tenantID, "CS1")
	require.NoError(t, err)
	require.Len(t, cs.RemoteAuthorizations, 1)
	assert.Equal(t, "auth-1", cs.RemoteAuthorizations[0].ID)
}

func TestStartSessionUnknownEvse(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.gw.StartSession(ctx, tenantID, h.ep, h.start("NOPE*1", "auth-1"))
	require.NoError(t, err)
	assert.Equal(t, model.ResultRejected, res)
	ev := h.waitEvent(t, model.StateRejected)
	assert.Equal(t, ReasonStationNotFound, ev.Record.Reason)

	for _, id := range []string{"CS1", "CS2"} {
		cs, err := h.store.GetStation(ctx, tenantID, id)
		require.NoError(t, err)
		assert.Empty(t, cs.RemoteAuthorizations)
	}
	assert.Empty(t, h.factory.Keys())
}

func TestStartSessionRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(ds *store.Dataset)
		evse   string
		tag    string
		reason string
	}{
		{name: "unknown token", tag: "UNKNOWN", reason: ReasonUnknownToken},
		{name: "deleted user", reason: ReasonUserNotEligible, mutate: func(ds *store.Dataset) { ds.Users[0].Deleted = true }},
		{name: "issuer user", reason: ReasonUserNotEligible, mutate: func(ds *store.Dataset) { ds.Users[0].Issuer = true }},
		{name: "inactive tag", reason: ReasonTagInactive, mutate: func(ds *store.Dataset) { ds.Users[0].Tags[0].Active = false }},
		{name: "no roaming token", reason: ReasonTokenInvalid, mutate: func(ds *store.Dataset) { ds.Users[0].Tags[0].RoamingToken = nil }},
		{name: "invalid roaming token", reason: ReasonTokenInvalid, mutate: func(ds *store.Dataset) { ds.Users[0].Tags[0].RoamingToken.Valid = false }},
		{name: "station not found", evse: "CS9*1", reason: ReasonStationNotFound},
		{name: "connector not found", evse: "CS1*9", reason: authz.ReasonConnectorNotFound},
		{name: "station not issuer", reason: ReasonStationNotFound, mutate: func(ds *store.Dataset) { ds.Stations[0].Issuer = false }},
		{name: "station private", reason: authz.ReasonStationNotEligible, mutate: func(ds *store.Dataset) { ds.Stations[0].Private = true }},
		{name: "connector unavailable", reason: authz.ReasonConnectorNotAvailable, mutate: func(ds *store.Dataset) {
			ds.Stations[0].Connectors[0].Status = model.StatusFaulted
		}},
		{name: "live authorization", reason: authz.ReasonAuthorizationLive, mutate: func(ds *store.Dataset) {
			ds.Stations[0].RemoteAuthorizations = []model.RemoteAuthorization{{ID: "old", ConnectorID: 1, TagID: "X", Timestamp: time.Now()}}
		}},
		{name: "exclusive station busy", reason: authz.ReasonConnectorNotAvailable, mutate: func(ds *store.Dataset) {
			ds.Stations[0].CannotChargeInParallel = true
			ds.Stations[0].Connectors[1].Status = model.StatusCharging
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.mutate)
			cmd := h.start("CS1*1", "auth-1")
			if tc.evse != "" {
				cmd.EvseUID = tc.evse
			}
			if tc.tag != "" {
				cmd.Token.UID = tc.tag
			}
			res, err := h.gw.StartSession(context.Background(), tenantID, h.ep, cmd)
			require.NoError(t, err)
			assert.Equal(t, model.ResultRejected, res)
			ev := h.waitEvent(t, model.StateRejected)
			assert.Equal(t, tc.reason, ev.Record.Reason)
			assert.Empty(t, h.client.Starts())
		})
	}
}

func TestStartSessionRefreshesExpiredAuthorization(t *testing.T) {
	h := newHarness(t, func(ds *store.Dataset) {
		ds.Stations[0].RemoteAuthorizations = []model.RemoteAuthorization{
			{ID: "old", ConnectorID: 1, TagID: "X", Timestamp: time.Now().Add(-time.Hour)},
		}
	})
	ctx := context.Background()
	res, err := h.gw.StartSession(ctx, tenantID, h.ep, h.start("CS1*1", "auth-new"))
	require.NoError(t, err)
	assert.Equal(t, model.ResultAccepted, res)

	cs, err := h.store.GetStation(ctx, tenantID, "CS1")
	require.NoError(t, err)
	require.Len(t, cs.RemoteAuthorizations, 1)
	assert.Equal(t, "auth-new", cs.RemoteAuthorizations[0].ID)
	assert.Equal(t, "TAG1", cs.RemoteAuthorizations[0].TagID)
	h.waitCallback(t)
}

func TestStartSessionInvalidPayload(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cmd := h.start("CS1*1", "")
	_, err := h.gw.StartSession(ctx, tenantID, h.ep, cmd)
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Contains(t, err.Error(), "authorization_id")

	_, err = h.gw.Handle(ctx, tenantID, h.ep, "START_SESSION", []byte(`{"evse_uid":`))
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = h.gw.Handle(ctx, tenantID, h.ep, "stop_session", []byte(`{"session_id":"s-run"}`))
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = h.gw.Handle(ctx, tenantID, h.ep, "launch_rocket", nil)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestInvalidTenant(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.gw.StartSession(context.Background(), "not-a-tenant", h.ep, h.start("CS1*1", "a"))
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)
	_, err = h.gw.Handle(context.Background(), "", h.ep, "RESERVE_NOW", nil)
	assert.ErrorIs(t, err, tenant.ErrInvalidTenant)
}

func TestStopSession(t *testing.T) {
	cases := []struct {
		session string
		want    model.CommandResult
		reason  string
	}{
		{session: "s-run", want: model.ResultAccepted},
		{session: "s-missing", want: model.ResultRejected, reason: ReasonTransactionNotFound},
		{session: "s-stop", want: model.ResultRejected, reason: ReasonTransactionStopped},
		{session: "s-foreign", want: model.ResultRejected, reason: ReasonTransactionNotIssuer},
		{session: "s-ghost", want: model.ResultRejected, reason: ReasonStationNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.session, func(t *testing.T) {
			h := newHarness(t, nil)
			res, err := h.gw.StopSession(context.Background(), tenantID, h.ep, h.stop(tc.session))
			require.NoError(t, err)
			assert.Equal(t, tc.want, res)
			if tc.want == model.ResultRejected {
				ev := h.waitEvent(t, model.StateRejected)
				assert.Equal(t, tc.reason, ev.Record.Reason)
				assert.Empty(t, h.client.Stops())
				return
			}
			cb := h.waitCallback(t)
			assert.Equal(t, model.ResultAccepted, cb.body.Result)
			assert.Equal(t, []int{10}, h.client.Stops())
		})
	}
}

func TestUnsupportedCommands(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, cmd := range []string{"RESERVE_NOW", "unlock_connector"} {
		res, err := h.gw.Handle(ctx, tenantID, h.ep, cmd, []byte(`garbage`))
		require.NoError(t, err)
		assert.Equal(t, model.ResultNotSupported, res)
		ev := h.waitEvent(t, model.StateNotSupported)
		assert.Equal(t, model.ResultNotSupported, ev.Record.Result)
	}
	assert.Empty(t, h.factory.Keys())
	cs, err := h.store.GetStation(ctx, tenantID, "CS1")
	require.NoError(t, err)
	assert.Empty(t, cs.RemoteAuthorizations)
}

func TestCallbackAlwaysReportsAccepted(t *testing.T) {
	t.Run("device rejects", func(t *testing.T) {
		h := newHarness(t, nil)
		h.client.Result = station.DeviceRejected
		res, err := h.gw.StartSession(context.Background(), tenantID, h.ep, h.start("CS1*1", "a"))
		require.NoError(t, err)
		require.Equal(t, model.ResultAccepted, res)
		assert.Equal(t, model.ResultAccepted, h.waitCallback(t).body.Result)
		ev := h.waitEvent(t, model.StateNotified)
		assert.Equal(t, string(station.DeviceRejected), ev.Record.DeviceResult)
	})
	t.Run("station offline", func(t *testing.T) {
		h := newHarness(t, func(ds *store.Dataset) {
			ds.Stations = append(ds.Stations, model.ChargingStation{
				ID: "CS3", SiteID: "site1", Issuer: true,
				Connectors: []*model.Connector{{ConnectorID: 1, Status: model.StatusAvailable}},
			})
		})
		res, err := h.gw.StartSession(context.Background(), tenantID, h.ep, h.start("CS3*1", "a"))
		require.NoError(t, err)
		require.Equal(t, model.ResultAccepted, res)
		assert.Equal(t, model.ResultAccepted, h.waitCallback(t).body.Result)
		ev := h.waitEvent(t, model.StateNotified)
		assert.Equal(t, string(station.DeviceUnavailable), ev.Record.DeviceResult)
	})
	t.Run("device error", func(t *testing.T) {
		h := newHarness(t, nil)
		h.client.Err = errors.New("link down")
		_, err := h.gw.StartSession(context.Background(), tenantID, h.ep, h.start("CS1*1", "a"))
		require.NoError(t, err)
		assert.Equal(t, model.ResultAccepted, h.waitCallback(t).body.Result)
	})
}

func TestCallbackFailureIsRecorded(t *testing.T) {
	h := newHarness(t, nil)
	cmd := h.start("CS1*1", "a")
	cmd.ResponseURL = "http://127.0.0.1:1/unreachable"
	res, err := h.gw.StartSession(context.Background(), tenantID, h.ep, cmd)
	require.NoError(t, err)
	assert.Equal(t, model.ResultAccepted, res)
	ev := h.waitEvent(t, model.StateNotified)
	assert.NotEmpty(t, ev.Record.CallbackErr)
}

func TestConcurrentStartSessionsGrantOnce(t *testing.T) {
	h := newHarness(t, nil)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.gw.StartSession(context.Background(), tenantID, h.ep, h.start("CS1*2", "a"))
			if err != nil {
				t.Error(err)
				return
			}
			if res == model.ResultAccepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}

type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) GrantRemoteAuthorization(context.Context, string, string, model.RemoteAuthorization, time.Time) error {
	return f.err
}

func TestStoreErrorAbortsAdmission(t *testing.T) {
	h := newHarness(t, nil)
	boom := errors.New("db down")
	h.gw.store = failingStore{Store: h.store, err: boom}

	_, err := h.gw.StartSession(context.Background(), tenantID, h.ep, h.start("CS1*1", "a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCommand)
	ev := h.waitEvent(t, model.StateFailed)
	assert.Contains(t, ev.Record.Reason, "db down")
	assert.Empty(t, h.factory.Keys())

	cs, err := h.store.GetStation(context.Background(), tenantID, "CS1")
	require.NoError(t, err)
	assert.Empty(t, cs.RemoteAuthorizations)
}

type listStub struct {
	Store
	stations []model.ChargingStation
}

func (l listStub) ListStations(context.Context, string, store.StationFilter) ([]model.ChargingStation, error) {
	return l.stations, nil
}

func TestResolveEvseLastMatchWins(t *testing.T) {
	stub := listStub{stations: []model.ChargingStation{
		{ID: "CS1", OCPPVersion: model.OCPPVersion15, Issuer: true, Connectors: []*model.Connector{{ConnectorID: 1}}},
		{ID: "CS1", OCPPVersion: model.OCPPVersion16, Issuer: true, Connectors: []*model.Connector{nil, {ConnectorID: 1}}},
		{ID: "CS2", Issuer: true, Connectors: []*model.Connector{{ConnectorID: 1}}},
	}}
	g := &Gateway{store: stub}
	cs, connectorID, reason, err := g.resolveEvse(context.Background(), tenantID, "site", "CS1*1")
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, 1, connectorID)
	assert.Equal(t, model.OCPPVersion16, cs.OCPPVersion)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
