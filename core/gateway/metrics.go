package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsTotal    *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	callbackFailures prometheus.Counter
	queueOverflow    prometheus.Counter
	eventsDropped    *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Counter, prometheus.Counter, *prometheus.CounterVec) {
	cmds := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roaming_commands_total",
			Help: "Roaming commands by type and terminal state",
		},
		[]string{"type", "state"},
	)
	rej := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roaming_command_rejections_total",
			Help: "Rejected roaming commands by reason",
		},
		[]string{"reason"},
	)
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "station_dispatch_duration_seconds",
			Help:    "Duration of device commands from dispatch to station reply",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type", "device_result"},
	)
	cb := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roaming_callback_failures_total",
			Help: "Number of partner callbacks that could not be delivered",
		},
	)
	over := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_queue_overflow_total",
			Help: "Number of dispatch tasks run outside the worker pool because the queue was full",
		},
	)
	drop := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_events_dropped_total",
			Help: "Events not delivered to a full bus subscriber",
		},
		[]string{"bus"},
	)
	return cmds, rej, lat, cb, over, drop
}

func init() {
	commandsTotal, rejectionsTotal, dispatchDuration, callbackFailures, queueOverflow, eventsDropped = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers gateway metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandsTotal, rejectionsTotal, dispatchDuration, callbackFailures, queueOverflow, eventsDropped)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandsTotal, rejectionsTotal, dispatchDuration, callbackFailures, queueOverflow, eventsDropped = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

// QueueOverflowHook is meant for workqueue.Queue.OnOverflow.
func QueueOverflowHook() {
	queueOverflow.Inc()
}

// EventDropHook is meant for eventbus.WithDropHook. bus labels the counter.
func EventDropHook(bus string) func() {
	return func() { eventsDropped.WithLabelValues(bus).Inc() }
}
