// Package ingest is the boundary device messages cross before they reach the
// store. It unwraps transport header quirks, extracts the tenant from the
// endpoint the station was configured with and validates both identities.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/kilianp07/roamgate/core/tenant"
)

// ErrInvalidStationID is returned for station identities outside the
// accepted character set.
var ErrInvalidStationID = errors.New("invalid charging station id")

var stationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

// Header names as sent by stations.
const (
	HeaderChargeBoxIdentity = "chargeBoxIdentity"
	HeaderAction            = "Action"
	HeaderTo                = "To"
	HeaderFromAddress       = "From.Address"
	HeaderReplyToAddress    = "ReplyTo.Address"
)

var wrappedHeaders = []string{
	HeaderChargeBoxIdentity,
	HeaderAction,
	HeaderTo,
	HeaderFromAddress,
	HeaderReplyToAddress,
}

// Identity is what a device message resolved to.
type Identity struct {
	TenantID  string
	Token     string
	StationID string
	Action    string
}

// NormalizeHeaders replaces {"$value": x} wrappers by x in place. Dotted
// names address nested objects.
func NormalizeHeaders(headers map[string]any) {
	for _, name := range wrappedHeaders {
		normalizeOne(headers, name)
	}
}

func normalizeOne(headers map[string]any, name string) {
	parts := strings.Split(name, ".")
	m := headers
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	last := parts[len(parts)-1]
	if wrapped, ok := m[last].(map[string]any); ok {
		if v, ok := wrapped["$value"]; ok && v != nil {
			m[last] = v
		}
	}
}

// ParseEndpoint reads the tenantid and token query parameters of the
// endpoint URL. The URL is lower-cased and decoded first, so parameter names
// and values are matched case-insensitively.
func ParseEndpoint(endpoint string) (tenantID, token string, err error) {
	decoded, err := url.QueryUnescape(strings.ToLower(endpoint))
	if err != nil {
		return "", "", fmt.Errorf("decode endpoint: %w", err)
	}
	u, err := url.Parse(decoded)
	if err != nil {
		return "", "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	return q.Get("tenantid"), q.Get("token"), nil
}

// ValidStationID reports whether id only uses letters, digits, '_' and '-'.
func ValidStationID(id string) bool {
	return stationIDPattern.MatchString(id)
}

// Check normalizes headers, resolves the tenant of the endpoint and validates
// the station identity. endpoint defaults to the To header when empty.
func Check(ctx context.Context, resolver *tenant.Resolver, headers map[string]any, endpoint string) (Identity, error) {
	NormalizeHeaders(headers)
	if endpoint == "" {
		endpoint = headerString(headers, HeaderTo)
	}
	tenantID, token, err := ParseEndpoint(endpoint)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", tenant.ErrInvalidTenant, err)
	}
	if err := resolver.Resolve(ctx, tenantID); err != nil {
		return Identity{}, err
	}
	id := Identity{
		TenantID:  tenantID,
		Token:     token,
		StationID: headerString(headers, HeaderChargeBoxIdentity),
		Action:    headerString(headers, HeaderAction),
	}
	if !ValidStationID(id.StationID) {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidStationID, id.StationID)
	}
	return id, nil
}

func headerString(headers map[string]any, name string) string {
	s, _ := headers[name].(string)
	return s
}
