package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/roamgate/core/metrics"
	"github.com/kilianp07/roamgate/infra/logger"
)

// InfluxSink writes command and station events to an InfluxDB instance using
// the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback checks the health of the InfluxDB instance
// within ctx and returns a NopSink if the check fails.
func NewInfluxSinkWithFallback(ctx context.Context, url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordCommandResult writes one roaming_command point.
func (s *InfluxSink) RecordCommandResult(res coremetrics.CommandResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("roaming_command").
		AddTag("tenant_id", res.TenantID).
		AddTag("type", string(res.Type)).
		AddTag("result", string(res.Result))
	if res.StationID != "" {
		p = p.AddTag("station_id", res.StationID)
	}
	p = p.AddField("command_id", res.CommandID).
		AddField("reason", res.Reason).
		AddField("device_result", res.DeviceResult).
		AddField("callback_ok", res.CallbackOK).
		SetTime(res.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDispatchLatency writes one device_dispatch point.
func (s *InfluxSink) RecordDispatchLatency(lat coremetrics.DispatchLatency) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("device_dispatch").
		AddTag("tenant_id", lat.TenantID).
		AddTag("station_id", lat.StationID).
		AddTag("type", string(lat.Type)).
		AddTag("device_result", lat.DeviceResult).
		AddField("latency_ms", round3(lat.Latency.Seconds()*1000)).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordStationStatus writes one station_status point.
func (s *InfluxSink) RecordStationStatus(ev coremetrics.StationStatusEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("station_status").
		AddTag("tenant_id", ev.TenantID).
		AddTag("station_id", ev.StationID).
		AddTag("connector_id", strconv.Itoa(ev.ConnectorID)).
		AddField("status", string(ev.Status)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
