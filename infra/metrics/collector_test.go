package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/roamgate/core/events"
	coremetrics "github.com/kilianp07/roamgate/core/metrics"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/internal/eventbus"
)

type captureSink struct {
	mu       sync.Mutex
	results  []coremetrics.CommandResult
	latency  []coremetrics.DispatchLatency
	statuses []coremetrics.StationStatusEvent
}

func (c *captureSink) RecordCommandResult(r coremetrics.CommandResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func (c *captureSink) RecordDispatchLatency(l coremetrics.DispatchLatency) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = append(c.latency, l)
	return nil
}

func (c *captureSink) RecordStationStatus(e coremetrics.StationStatusEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses = append(c.statuses, e)
	return nil
}

func (c *captureSink) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results), len(c.latency), len(c.statuses)
}

func TestStartEventCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	commands := eventbus.NewTyped[events.CommandEvent]()
	stations := eventbus.NewTyped[events.StationEvent]()
	sink := &captureSink{}
	StartEventCollector(ctx, commands, stations, sink)

	commands.Publish(events.CommandEvent{Record: model.CommandRecord{
		ID: "c1", Result: model.ResultRejected, State: model.StateRejected,
	}})
	commands.Publish(events.CommandEvent{Record: model.CommandRecord{
		ID: "c2", Result: model.ResultAccepted, State: model.StateNotified, DeviceResult: "Accepted",
	}, Latency: time.Second})
	stations.Publish(events.StationEvent{Kind: events.StationHeartbeat, StationID: "CS1"})
	stations.Publish(events.StationEvent{Kind: events.StationStatus, StationID: "CS1", Status: model.StatusCharging})

	assert.Eventually(t, func() bool {
		r, l, s := sink.counts()
		return r == 2 && l == 1 && s == 1
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.False(t, sink.results[0].CallbackOK)
	assert.True(t, sink.results[1].CallbackOK)
	assert.Equal(t, time.Second, sink.latency[0].Latency)
}
