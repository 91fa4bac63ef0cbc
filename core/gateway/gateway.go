// Package gateway coordinates roaming partner commands: it validates them,
// decides admission synchronously and hands accepted commands to a worker
// queue that dispatches them to the station and reports back to the partner.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/roamgate/core/authz"
	"github.com/kilianp07/roamgate/core/callback"
	"github.com/kilianp07/roamgate/core/connector"
	"github.com/kilianp07/roamgate/core/events"
	"github.com/kilianp07/roamgate/core/logger"
	"github.com/kilianp07/roamgate/core/model"
	coremon "github.com/kilianp07/roamgate/core/monitoring"
	"github.com/kilianp07/roamgate/core/station"
	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/tenant"
	"github.com/kilianp07/roamgate/internal/eventbus"
	"github.com/kilianp07/roamgate/internal/workqueue"
)

// DefaultDispatchTimeout bounds the device call of a detached command.
const DefaultDispatchTimeout = 30 * time.Second

// ErrInvalidCommand is returned for malformed command payloads.
var ErrInvalidCommand = errors.New("invalid command")

// Rejection reasons, in addition to the authz ledger ones.
const (
	ReasonUnknownToken         = "unknown_token"
	ReasonUserNotEligible      = "user_not_eligible"
	ReasonTagInactive          = "tag_inactive"
	ReasonTokenInvalid         = "token_invalid"
	ReasonStationNotFound      = "station_not_found"
	ReasonTransactionNotFound  = "transaction_not_found"
	ReasonTransactionNotIssuer = "transaction_not_issuer"
	ReasonTransactionStopped   = "transaction_stopped"
)

// Store is the persistence the gateway needs.
type Store interface {
	store.StationStore
	store.UserStore
	store.TransactionStore
}

// Deps groups the collaborators of a Gateway. Events may be nil.
type Deps struct {
	Tenants    *tenant.Resolver
	Store      Store
	Ledger     *authz.Ledger
	Dispatcher *station.Dispatcher
	Notifier   *callback.Notifier
	Queue      *workqueue.Queue
	Events     *eventbus.TypedBus[events.CommandEvent]
	Logger     logger.Logger
	// DispatchTimeout bounds the device call; zero means DefaultDispatchTimeout.
	DispatchTimeout time.Duration
}

// Gateway is the command orchestrator.
type Gateway struct {
	tenants         *tenant.Resolver
	store           Store
	ledger          *authz.Ledger
	dispatcher      *station.Dispatcher
	notifier        *callback.Notifier
	queue           *workqueue.Queue
	events          *eventbus.TypedBus[events.CommandEvent]
	log             logger.Logger
	dispatchTimeout time.Duration
	newID           func() string
}

// New creates a Gateway.
func New(d Deps) (*Gateway, error) {
	if d.Tenants == nil || d.Store == nil || d.Dispatcher == nil || d.Notifier == nil || d.Queue == nil || d.Logger == nil {
		return nil, fmt.Errorf("gateway: nil dependency")
	}
	if d.Ledger == nil {
		d.Ledger = authz.NewLedger(authz.DefaultValidity)
	}
	if d.DispatchTimeout <= 0 {
		d.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Gateway{
		tenants:         d.Tenants,
		store:           d.Store,
		ledger:          d.Ledger,
		dispatcher:      d.Dispatcher,
		notifier:        d.Notifier,
		queue:           d.Queue,
		events:          d.Events,
		log:             d.Logger,
		dispatchTimeout: d.DispatchTimeout,
		newID:           uuid.NewString,
	}, nil
}

// Handle decodes body according to the command segment and runs it for the
// partner endpoint ep. Unknown command segments yield ErrInvalidCommand.
func (g *Gateway) Handle(ctx context.Context, tenantID string, ep *model.RoamingEndpoint, command string, body []byte) (model.CommandResult, error) {
	typ, ok := model.ParseCommandType(command)
	if !ok {
		return "", fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, command)
	}
	switch typ {
	case model.CommandStartSession:
		var cmd model.StartSession
		if err := json.Unmarshal(body, &cmd); err != nil {
			return "", fmt.Errorf("%w: StartSession command body is invalid: %v", ErrInvalidCommand, err)
		}
		return g.StartSession(ctx, tenantID, ep, cmd)
	case model.CommandStopSession:
		var cmd model.StopSession
		if err := json.Unmarshal(body, &cmd); err != nil {
			return "", fmt.Errorf("%w: StopSession command body is invalid: %v", ErrInvalidCommand, err)
		}
		return g.StopSession(ctx, tenantID, ep, cmd)
	default:
		return g.unsupported(ctx, tenantID, typ)
	}
}

func (g *Gateway) unsupported(ctx context.Context, tenantID string, typ model.CommandType) (model.CommandResult, error) {
	if err := g.tenants.Resolve(ctx, tenantID); err != nil {
		return "", err
	}
	lc := g.begin(tenantID, typ)
	lc.rec.Result = model.ResultNotSupported
	g.transition(ctx, lc, eventUnsupported)
	return model.ResultNotSupported, nil
}

// StartSession admits or rejects a remote start. On admission an
// authorization is persisted for the target connector and the device call
// plus partner callback run on the work queue.
func (g *Gateway) StartSession(ctx context.Context, tenantID string, ep *model.RoamingEndpoint, cmd model.StartSession) (model.CommandResult, error) {
	if err := g.tenants.Resolve(ctx, tenantID); err != nil {
		return "", err
	}
	lc := g.begin(tenantID, model.CommandStartSession)
	if missing := missingStartFields(cmd); len(missing) > 0 {
		return "", g.invalid(ctx, lc, "StartSession command body is invalid", missing)
	}
	if ep == nil {
		return "", g.failed(ctx, lc, fmt.Errorf("%w: no roaming endpoint", ErrInvalidCommand))
	}

	if reason, err := g.checkToken(ctx, tenantID, cmd.Token.UID); err != nil {
		return "", g.failed(ctx, lc, err)
	} else if reason != "" {
		return g.reject(ctx, lc, reason), nil
	}
	g.transition(ctx, lc, eventValidate)

	cs, connectorID, reason, err := g.resolveEvse(ctx, tenantID, cmd.LocationID, cmd.EvseUID)
	if err != nil {
		return "", g.failed(ctx, lc, err)
	}
	if reason != "" {
		return g.reject(ctx, lc, reason), nil
	}
	lc.rec.StationID = cs.ID
	lc.rec.ConnectorID = connectorID

	decision := g.ledger.Grant(cs, connectorID, cmd.AuthorizationID, cmd.Token.UID)
	if !decision.Granted {
		return g.reject(ctx, lc, decision.Reason), nil
	}
	auth := decision.Authorization
	err = g.store.GrantRemoteAuthorization(ctx, tenantID, cs.ID, auth, g.ledger.LiveSince(auth.Timestamp))
	if errors.Is(err, store.ErrConflict) {
		return g.reject(ctx, lc, authz.ReasonAuthorizationLive), nil
	}
	if err != nil {
		return "", g.failed(ctx, lc, fmt.Errorf("save authorization: %w", err))
	}

	lc.rec.Result = model.ResultAccepted
	g.transition(ctx, lc, eventAdmit)
	g.detach(lc, ep, cmd.ResponseURL, func(ctx context.Context) (station.DeviceResult, error) {
		return g.dispatcher.StartSession(ctx, tenantID, cs, connectorID, cmd.Token.UID)
	})
	return model.ResultAccepted, nil
}

// StopSession admits or rejects a remote stop of the transaction referenced
// by the partner session id.
func (g *Gateway) StopSession(ctx context.Context, tenantID string, ep *model.RoamingEndpoint, cmd model.StopSession) (model.CommandResult, error) {
	if err := g.tenants.Resolve(ctx, tenantID); err != nil {
		return "", err
	}
	lc := g.begin(tenantID, model.CommandStopSession)
	if missing := missingStopFields(cmd); len(missing) > 0 {
		return "", g.invalid(ctx, lc, "StopSession command body is invalid", missing)
	}
	if ep == nil {
		return "", g.failed(ctx, lc, fmt.Errorf("%w: no roaming endpoint", ErrInvalidCommand))
	}
	g.transition(ctx, lc, eventValidate)

	tx, err := g.store.FindTransactionByRoamingSession(ctx, tenantID, cmd.SessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && tx == nil) {
		return g.reject(ctx, lc, ReasonTransactionNotFound), nil
	}
	if err != nil {
		return "", g.failed(ctx, lc, fmt.Errorf("find transaction: %w", err))
	}
	lc.rec.StationID = tx.ChargeBoxID
	lc.rec.ConnectorID = tx.ConnectorID
	if !tx.Issuer {
		return g.reject(ctx, lc, ReasonTransactionNotIssuer), nil
	}
	if tx.Stopped() {
		return g.reject(ctx, lc, ReasonTransactionStopped), nil
	}
	cs, err := g.store.GetStation(ctx, tenantID, tx.ChargeBoxID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (cs == nil || cs.Deleted)) {
		return g.reject(ctx, lc, ReasonStationNotFound), nil
	}
	if err != nil {
		return "", g.failed(ctx, lc, fmt.Errorf("get station: %w", err))
	}

	lc.rec.Result = model.ResultAccepted
	g.transition(ctx, lc, eventAdmit)
	txID := tx.ID
	g.detach(lc, ep, cmd.ResponseURL, func(ctx context.Context) (station.DeviceResult, error) {
		return g.dispatcher.StopSession(ctx, tenantID, cs, txID)
	})
	return model.ResultAccepted, nil
}

// checkToken returns a rejection reason when the tag cannot start a session.
// Tags of users imported from roaming partners are the only ones accepted.
func (g *Gateway) checkToken(ctx context.Context, tenantID, tagID string) (string, error) {
	user, err := g.store.FindUserByTag(ctx, tenantID, tagID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && user == nil) {
		return ReasonUnknownToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("find user by tag: %w", err)
	}
	if user.Deleted || user.Issuer {
		return ReasonUserNotEligible, nil
	}
	tag := user.Tag(tagID)
	if tag == nil || !tag.Active {
		return ReasonTagInactive, nil
	}
	if tag.RoamingToken == nil || !tag.RoamingToken.Valid {
		return ReasonTokenInvalid, nil
	}
	return "", nil
}

// resolveEvse finds the station and connector addressed by evseUID among the
// issuer stations of the site. When several connectors match, the last one
// in iteration order wins.
func (g *Gateway) resolveEvse(ctx context.Context, tenantID, siteID, evseUID string) (*model.ChargingStation, int, string, error) {
	stations, err := g.store.ListStations(ctx, tenantID, store.StationFilter{SiteID: siteID, IssuerOnly: true})
	if err != nil {
		return nil, 0, "", fmt.Errorf("list stations: %w", err)
	}
	var (
		match       *model.ChargingStation
		connectorID int
	)
	for i := range stations {
		cs := &stations[i]
		connector.Normalize(cs)
		for _, c := range cs.Connectors {
			if c != nil && model.EvseUID(cs.ID, c.ConnectorID) == evseUID {
				match, connectorID = cs, c.ConnectorID
			}
		}
	}
	if match != nil {
		return match, connectorID, "", nil
	}
	if idx := strings.LastIndex(evseUID, "*"); idx > 0 {
		prefix := evseUID[:idx]
		for _, cs := range stations {
			if cs.ID == prefix {
				return nil, 0, authz.ReasonConnectorNotFound, nil
			}
		}
	}
	return nil, 0, ReasonStationNotFound, nil
}

// detach queues the device call and the partner callback. The callback
// always reports ACCEPTED; the device result is only logged and recorded.
func (g *Gateway) detach(lc *lifecycle, ep *model.RoamingEndpoint, responseURL string, call func(ctx context.Context) (station.DeviceResult, error)) {
	token := ep.Token
	ok := g.queue.Submit(func(ctx context.Context) {
		g.transition(ctx, lc, eventDispatch)

		dctx, cancel := context.WithTimeout(ctx, g.dispatchTimeout)
		start := time.Now()
		res, err := call(dctx)
		cancel()
		lc.latency = time.Since(start)
		lc.rec.DeviceResult = string(res)
		dispatchDuration.WithLabelValues(string(lc.rec.Type), string(res)).Observe(lc.latency.Seconds())

		fields := logger.Fields{
			"command_id":    lc.rec.ID,
			"tenant_id":     lc.rec.TenantID,
			"station_id":    lc.rec.StationID,
			"device_result": string(res),
		}
		if err != nil {
			fields["error"] = err.Error()
			g.log.Errorw("device command failed", fields)
			coremon.CaptureException(err, map[string]string{"module": "gateway", "command_id": lc.rec.ID})
		} else if res != station.DeviceAccepted {
			g.log.Warnf("command %s: station %s answered %s, partner is still notified ACCEPTED", lc.rec.ID, lc.rec.StationID, res)
		}

		if err := g.notifier.Notify(ctx, responseURL, token, model.CommandResponse{Result: model.ResultAccepted}); err != nil {
			lc.rec.CallbackErr = err.Error()
			callbackFailures.Inc()
			g.log.Errorf("command %s: callback to %s failed: %v", lc.rec.ID, responseURL, err)
			coremon.CaptureException(err, map[string]string{"module": "gateway", "command_id": lc.rec.ID})
		}
		g.transition(ctx, lc, eventNotify)
	})
	if !ok {
		lc.rec.Reason = "queue_closed"
		g.log.Errorf("command %s: work queue closed, dispatch dropped", lc.rec.ID)
		g.transition(context.Background(), lc, eventFail)
	}
}

func (g *Gateway) begin(tenantID string, typ model.CommandType) *lifecycle {
	return newLifecycle(g.newID(), tenantID, typ, g.finish)
}

func (g *Gateway) transition(ctx context.Context, lc *lifecycle, event string) {
	if err := lc.fire(ctx, event); err != nil {
		g.log.Warnf("command %s: %s from %s: %v", lc.rec.ID, event, lc.State(), err)
	}
}

func (g *Gateway) reject(ctx context.Context, lc *lifecycle, reason string) model.CommandResult {
	lc.rec.Result = model.ResultRejected
	lc.rec.Reason = reason
	rejectionsTotal.WithLabelValues(reason).Inc()
	g.transition(ctx, lc, eventReject)
	return model.ResultRejected
}

func (g *Gateway) invalid(ctx context.Context, lc *lifecycle, msg string, missing []string) error {
	err := fmt.Errorf("%w: %s: missing %s", ErrInvalidCommand, msg, strings.Join(missing, ", "))
	lc.rec.Reason = "invalid_payload"
	g.transition(ctx, lc, eventFail)
	return err
}

func (g *Gateway) failed(ctx context.Context, lc *lifecycle, err error) error {
	lc.rec.Reason = err.Error()
	g.transition(ctx, lc, eventFail)
	if !errors.Is(err, ErrInvalidCommand) {
		coremon.CaptureException(err, map[string]string{"module": "gateway", "command_id": lc.rec.ID})
	}
	return err
}

// finish runs once per command when it enters a terminal state.
func (g *Gateway) finish(lc *lifecycle) {
	rec := lc.rec
	commandsTotal.WithLabelValues(string(rec.Type), string(rec.State)).Inc()
	fields := logger.Fields{
		"command_id": rec.ID,
		"tenant_id":  rec.TenantID,
		"type":       string(rec.Type),
		"state":      string(rec.State),
		"result":     string(rec.Result),
	}
	if rec.Reason != "" {
		fields["reason"] = rec.Reason
	}
	if rec.StationID != "" {
		fields["station_id"] = rec.StationID
		fields["connector_id"] = rec.ConnectorID
	}
	g.log.Infow("command finished", fields)
	if g.events != nil {
		g.events.Publish(events.CommandEvent{Record: rec, Latency: lc.latency})
	}
}

func missingStartFields(cmd model.StartSession) []string {
	var missing []string
	if cmd.ResponseURL == "" {
		missing = append(missing, "response_url")
	}
	if cmd.EvseUID == "" {
		missing = append(missing, "evse_uid")
	}
	if cmd.LocationID == "" {
		missing = append(missing, "location_id")
	}
	if cmd.Token.UID == "" {
		missing = append(missing, "token")
	}
	if cmd.AuthorizationID == "" {
		missing = append(missing, "authorization_id")
	}
	return missing
}

func missingStopFields(cmd model.StopSession) []string {
	var missing []string
	if cmd.ResponseURL == "" {
		missing = append(missing, "response_url")
	}
	if cmd.SessionID == "" {
		missing = append(missing, "session_id")
	}
	return missing
}
