// Package infra contains technical adapters: the MQTT station transport,
// the Postgres and in-memory stores, presence backends and metrics sinks.
// These packages depend only on the interfaces defined in the core packages.
package infra
