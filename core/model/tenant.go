package model

import "time"

// DefaultTenantID is the reserved tenant that always exists.
const DefaultTenantID = "default"

// Tenant is an operator account sharing the platform.
type Tenant struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Subdomain string `json:"subdomain" yaml:"subdomain"`
}

// Tag is an identification credential (e.g. RFID) bound to a user.
type Tag struct {
	ID           string        `json:"id" yaml:"id"`
	Active       bool          `json:"active" yaml:"active"`
	RoamingToken *RoamingToken `json:"ocpiToken,omitempty" yaml:"roaming_token,omitempty"`
}

// RoamingToken is the roaming-partner side registration of a tag.
type RoamingToken struct {
	UID   string `json:"uid" yaml:"uid"`
	Valid bool   `json:"valid" yaml:"valid"`
}

// User owns tags. Issuer users are local; roaming users are not.
type User struct {
	ID      string `json:"id" yaml:"id"`
	Issuer  bool   `json:"issuer" yaml:"issuer"`
	Deleted bool   `json:"deleted" yaml:"deleted"`
	Tags    []Tag  `json:"tags" yaml:"tags"`
}

// Tag returns the tag with the given id or nil.
func (u *User) Tag(id string) *Tag {
	for i := range u.Tags {
		if u.Tags[i].ID == id {
			return &u.Tags[i]
		}
	}
	return nil
}

// Transaction is a charging session recorded by a station.
type Transaction struct {
	ID               int        `json:"id" yaml:"id"`
	ChargeBoxID      string     `json:"chargeBoxID" yaml:"charge_box_id"`
	ConnectorID      int        `json:"connectorId" yaml:"connector_id"`
	TagID            string     `json:"tagID" yaml:"tag_id"`
	Issuer           bool       `json:"issuer" yaml:"issuer"`
	RoamingSessionID string     `json:"ocpiSessionID,omitempty" yaml:"roaming_session_id"`
	StartedAt        time.Time  `json:"timestamp" yaml:"started_at"`
	StoppedAt        *time.Time `json:"stop,omitempty" yaml:"stopped_at,omitempty"`
}

// Stopped reports whether the transaction already ended.
func (t *Transaction) Stopped() bool { return t.StoppedAt != nil }

// RoamingEndpoint is a registered roaming partner platform.
type RoamingEndpoint struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Role       string `json:"role" yaml:"role"`
	BaseURL    string `json:"baseUrl" yaml:"base_url"`
	LocalToken string `json:"localToken" yaml:"local_token"`
	Token      string `json:"token" yaml:"token"`
}
