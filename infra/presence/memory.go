// Package presence records station liveness from heartbeats so device
// commands are only published to stations that can answer.
package presence

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a heartbeat keeps a station online.
const DefaultTTL = 5 * time.Minute

// Memory tracks presence in process.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewMemory creates a Memory tracker. ttl <= 0 means DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, seen: map[string]time.Time{}}
}

func (m *Memory) Touch(_ context.Context, tenantID, stationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key(tenantID, stationID)] = m.now()
	return nil
}

func (m *Memory) Online(_ context.Context, tenantID, stationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.seen[key(tenantID, stationID)]
	return ok && m.now().Sub(at) < m.ttl, nil
}

// Always reports every station online. It is used when presence tracking is
// disabled.
type Always struct{}

func (Always) Touch(context.Context, string, string) error          { return nil }
func (Always) Online(context.Context, string, string) (bool, error) { return true, nil }

func key(tenantID, stationID string) string {
	return "presence:" + tenantID + ":" + stationID
}
