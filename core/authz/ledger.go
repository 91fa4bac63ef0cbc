// Package authz decides remote start grants for station connectors.
//
// The ledger is pure: it mutates the station passed in and leaves persistence
// to the caller.
package authz

import (
	"time"

	"github.com/kilianp07/roamgate/core/model"
)

// DefaultValidity is the lifetime of a remote authorization.
const DefaultValidity = 2 * time.Minute

// Denial reasons.
const (
	ReasonConnectorNotFound     = "connector_not_found"
	ReasonStationNotEligible    = "station_not_eligible"
	ReasonConnectorNotAvailable = "connector_not_available"
	ReasonAuthorizationLive     = "authorization_live"
)

// Decision is the outcome of Grant.
type Decision struct {
	Granted bool
	Reason  string
	// Authorization is the entry written on the station when granted.
	Authorization model.RemoteAuthorization
	// Refreshed is true when an expired entry was overwritten in place.
	Refreshed bool
}

// Ledger evaluates grants against a validity window.
type Ledger struct {
	window time.Duration
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger. A non-positive window falls back to DefaultValidity.
func NewLedger(window time.Duration, opts ...Option) *Ledger {
	if window <= 0 {
		window = DefaultValidity
	}
	l := &Ledger{window: window, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Window returns the validity window.
func (l *Ledger) Window() time.Duration { return l.window }

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time { return l.now() }

// IsLive reports whether an authorization stamped at ts is still valid.
func (l *Ledger) IsLive(ts time.Time) bool {
	return l.now().Sub(ts) < l.window
}

// LiveSince returns the oldest timestamp still considered live at t.
// Stores use it as the precondition of conditional grants.
func (l *Ledger) LiveSince(t time.Time) time.Time {
	return t.Add(-l.window)
}

// Grant admits a remote start on connectorID of cs for tagID under the
// partner reference authRef. On success the station authorization list is
// updated: a new entry is appended, or an expired entry for the connector is
// refreshed in place.
func (l *Ledger) Grant(cs *model.ChargingStation, connectorID int, authRef, tagID string) Decision {
	c := cs.Connector(connectorID)
	if c == nil {
		return Decision{Reason: ReasonConnectorNotFound}
	}
	if !cs.Issuer || cs.Private {
		return Decision{Reason: ReasonStationNotEligible}
	}
	if c.Status != model.StatusAvailable {
		return Decision{Reason: ReasonConnectorNotAvailable}
	}
	now := l.now()
	if existing := cs.Authorization(connectorID); existing != nil {
		if l.IsLive(existing.Timestamp) {
			return Decision{Reason: ReasonAuthorizationLive, Authorization: *existing}
		}
		existing.ID = authRef
		existing.TagID = tagID
		existing.Timestamp = now
		return Decision{Granted: true, Authorization: *existing, Refreshed: true}
	}
	auth := model.RemoteAuthorization{ID: authRef, ConnectorID: connectorID, TagID: tagID, Timestamp: now}
	cs.RemoteAuthorizations = append(cs.RemoteAuthorizations, auth)
	return Decision{Granted: true, Authorization: auth}
}
