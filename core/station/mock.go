package station

import (
	"context"
	"sync"
)

// StartCall records a RemoteStartTransaction invocation.
type StartCall struct {
	StationID   string
	ConnectorID int
	TagID       string
}

// MockClient is an in-memory Client used in tests and local runs.
type MockClient struct {
	StationID string
	Result    DeviceResult
	Err       error

	mu     sync.Mutex
	starts []StartCall
	stops  []int
}

func (m *MockClient) RemoteStartTransaction(_ context.Context, connectorID int, tagID string) (DeviceResult, error) {
	m.mu.Lock()
	m.starts = append(m.starts, StartCall{StationID: m.StationID, ConnectorID: connectorID, TagID: tagID})
	m.mu.Unlock()
	return m.result()
}

func (m *MockClient) RemoteStopTransaction(_ context.Context, transactionID int) (DeviceResult, error) {
	m.mu.Lock()
	m.stops = append(m.stops, transactionID)
	m.mu.Unlock()
	return m.result()
}

func (m *MockClient) result() (DeviceResult, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Result == "" {
		return DeviceAccepted, nil
	}
	return m.Result, nil
}

// Starts returns the recorded start calls.
func (m *MockClient) Starts() []StartCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StartCall(nil), m.starts...)
}

// Stops returns the recorded stop calls.
func (m *MockClient) Stops() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.stops...)
}

// MockFactory serves MockClients by station id. Unknown stations are offline.
type MockFactory struct {
	mu      sync.Mutex
	clients map[string]*MockClient
	keys    []Key
}

// NewMockFactory creates an empty MockFactory.
func NewMockFactory() *MockFactory {
	return &MockFactory{clients: make(map[string]*MockClient)}
}

// Online registers a client for stationID and returns it.
func (f *MockFactory) Online(stationID string) *MockClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &MockClient{StationID: stationID}
	f.clients[stationID] = c
	return c
}

func (f *MockFactory) Client(_ context.Context, key Key) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	c, ok := f.clients[key.StationID]
	if !ok {
		return nil, nil
	}
	return c, nil
}

// Keys returns the keys requested so far.
func (f *MockFactory) Keys() []Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Key(nil), f.keys...)
}
