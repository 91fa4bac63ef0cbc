package metrics

import (
	"context"

	"github.com/kilianp07/roamgate/core/events"
	coremetrics "github.com/kilianp07/roamgate/core/metrics"
	"github.com/kilianp07/roamgate/core/model"
	"github.com/kilianp07/roamgate/infra/logger"
	"github.com/kilianp07/roamgate/internal/eventbus"
)

// StartEventCollector subscribes to the command and station buses and feeds
// the sink. Either bus may be nil. It stops when the context is canceled or
// both buses are closed.
func StartEventCollector(ctx context.Context, commands *eventbus.TypedBus[events.CommandEvent],
	stations *eventbus.TypedBus[events.StationEvent], sink coremetrics.MetricsSink) {
	if sink == nil {
		return
	}
	log := logger.New("metrics-collector")
	if commands != nil {
		sub := commands.Subscribe()
		go func() {
			defer commands.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub:
					if !ok {
						return
					}
					if err := recordCommand(sink, ev); err != nil {
						log.Warnf("record command %s: %v", ev.Record.ID, err)
					}
				}
			}
		}()
	}
	if stations != nil {
		rec, ok := sink.(coremetrics.StationStatusRecorder)
		if !ok {
			return
		}
		sub := stations.Subscribe()
		go func() {
			defer stations.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub:
					if !ok {
						return
					}
					if ev.Kind != events.StationStatus {
						continue
					}
					if err := rec.RecordStationStatus(coremetrics.StationStatusEvent{
						TenantID:    ev.TenantID,
						StationID:   ev.StationID,
						ConnectorID: ev.ConnectorID,
						Status:      ev.Status,
						Time:        ev.Time,
					}); err != nil {
						log.Warnf("record station status %s: %v", ev.StationID, err)
					}
				}
			}
		}()
	}
}

func recordCommand(sink coremetrics.MetricsSink, ev events.CommandEvent) error {
	r := ev.Record
	err := sink.RecordCommandResult(coremetrics.CommandResult{
		CommandID:    r.ID,
		TenantID:     r.TenantID,
		Type:         r.Type,
		Result:       r.Result,
		Reason:       r.Reason,
		StationID:    r.StationID,
		DeviceResult: r.DeviceResult,
		CallbackOK:   r.CallbackErr == "" && r.State == model.StateNotified,
		Time:         r.Timestamp,
	})
	if err != nil || r.DeviceResult == "" {
		return err
	}
	if lr, ok := sink.(coremetrics.LatencyRecorder); ok {
		return lr.RecordDispatchLatency(coremetrics.DispatchLatency{
			TenantID:     r.TenantID,
			StationID:    r.StationID,
			Type:         r.Type,
			DeviceResult: r.DeviceResult,
			Latency:      ev.Latency,
		})
	}
	return nil
}
