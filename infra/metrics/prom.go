package metrics

import (
	"strconv"

	coremetrics "github.com/kilianp07/roamgate/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records command outcomes in Prometheus metrics.
type PromSink struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	status   *prometheus.CounterVec
}

// NewPromSink registers command metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// that are already registered are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roaming_command_results_total",
		Help: "Roaming commands by terminal outcome",
	}, []string{"tenant_id", "type", "result", "reason", "callback_ok"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "device_dispatch_latency_seconds",
		Help:    "Time between device command publish and station reply",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "device_result"})
	status := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "station_status_notifications_total",
		Help: "Connector status notifications received from stations",
	}, []string{"tenant_id", "status"})

	var err error
	if commands, err = register(reg, commands); err != nil {
		return nil, err
	}
	if latency, err = register(reg, latency); err != nil {
		return nil, err
	}
	if status, err = register(reg, status); err != nil {
		return nil, err
	}
	return &PromSink{commands: commands, latency: latency, status: status}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordCommandResult increments the outcome counter.
func (s *PromSink) RecordCommandResult(res coremetrics.CommandResult) error {
	s.commands.WithLabelValues(res.TenantID, string(res.Type), string(res.Result), res.Reason,
		strconv.FormatBool(res.CallbackOK)).Inc()
	return nil
}

// RecordDispatchLatency observes the device round trip.
func (s *PromSink) RecordDispatchLatency(lat coremetrics.DispatchLatency) error {
	s.latency.WithLabelValues(string(lat.Type), lat.DeviceResult).Observe(lat.Latency.Seconds())
	return nil
}

// RecordStationStatus counts status notifications. The station ID is left out
// of the labels to bound cardinality.
func (s *PromSink) RecordStationStatus(ev coremetrics.StationStatusEvent) error {
	s.status.WithLabelValues(ev.TenantID, string(ev.Status)).Inc()
	return nil
}
