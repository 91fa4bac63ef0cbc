// Package metrics defines the sinks that record command outcomes, device
// latency and station status. Sinks such as the Prometheus and InfluxDB ones
// in infra/metrics are created from configuration through the factory
// registry; NewMetricsSink returns a MultiSink when several are configured.
package metrics
